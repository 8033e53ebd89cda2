package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// IdentityRepository implements transaction.IdentityRepository for PostgreSQL
type IdentityRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewIdentityRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.IdentityRepository {
	return &IdentityRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *IdentityRepository) WithTx(tx pgx.Tx) transaction.IdentityRepository {
	return &IdentityRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *IdentityRepository) GetByToken(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error) {
	query := `
		SELECT id, loyalty_scheme_slug, payment_token, loyalty_id, scheme_account_id, user_id, credentials, created_at
		FROM user_identities
		WHERE loyalty_scheme_slug = $1 AND payment_token = $2
	`

	var identity transaction.UserIdentity
	err := r.querier.QueryRow(ctx, query, loyaltySchemeSlug, paymentToken).Scan(
		&identity.ID,
		&identity.LoyaltySchemeSlug,
		&identity.PaymentToken,
		&identity.LoyaltyID,
		&identity.SchemeAccountID,
		&identity.UserID,
		&identity.Credentials,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrIdentityNotFound{LoyaltySchemeSlug: loyaltySchemeSlug, PaymentToken: paymentToken}
		}
		r.logger.Error("Failed to get user identity", "loyalty_scheme_slug", loyaltySchemeSlug, "error", err)
		return nil, fmt.Errorf("failed to get user identity: %w", err)
	}

	return &identity, nil
}

// Upsert refreshes the stored identity so re-resolution never creates a second row
func (r *IdentityRepository) Upsert(ctx context.Context, identity *transaction.UserIdentity) error {
	query := `
		INSERT INTO user_identities (loyalty_scheme_slug, payment_token, loyalty_id, scheme_account_id, user_id, credentials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (loyalty_scheme_slug, payment_token) DO UPDATE
		SET loyalty_id = EXCLUDED.loyalty_id,
		    scheme_account_id = EXCLUDED.scheme_account_id,
		    user_id = EXCLUDED.user_id,
		    credentials = EXCLUDED.credentials,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	credentials := identity.Credentials
	if credentials == nil {
		credentials = map[string]string{}
	}

	err := r.querier.QueryRow(ctx, query,
		identity.LoyaltySchemeSlug,
		identity.PaymentToken,
		identity.LoyaltyID,
		identity.SchemeAccountID,
		identity.UserID,
		credentials,
		identity.CreatedAt,
	).Scan(&identity.ID)
	if err != nil {
		r.logger.Error("Failed to upsert user identity", "loyalty_scheme_slug", identity.LoyaltySchemeSlug, "error", err)
		return fmt.Errorf("failed to upsert user identity: %w", err)
	}

	return nil
}
