package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// MerchantRepository implements merchant.Repository for PostgreSQL
type MerchantRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewMerchantRepository(logger *slog.Logger, db *persistence.PostgresDB) merchant.Repository {
	return &MerchantRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *MerchantRepository) WithTx(tx pgx.Tx) merchant.Repository {
	return &MerchantRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Resolve looks an identifier up on the side of the feed that supplied it
func (r *MerchantRepository) Resolve(ctx context.Context, feedType shared.FeedType, providerSlug string, lookup merchant.Lookup) ([]int64, error) {
	var query string
	switch feedType {
	case shared.FeedTypePayment:
		query = `
		SELECT id FROM merchant_identifiers
		WHERE payment_provider_slug = $1 AND identifier = $2 AND identifier_type = $3
		ORDER BY id
	`
	case shared.FeedTypeScheme:
		query = `
		SELECT id FROM merchant_identifiers
		WHERE loyalty_scheme_slug = $1 AND identifier = $2 AND identifier_type = $3
		ORDER BY id
	`
	default:
		return nil, shared.ErrInvalidFeedType
	}

	rows, err := r.querier.Query(ctx, query, providerSlug, lookup.Value, lookup.Type)
	if err != nil {
		r.logger.Error("Failed to resolve merchant identifier",
			"provider_slug", providerSlug,
			"identifier_type", string(lookup.Type),
			"error", err,
		)
		return nil, fmt.Errorf("failed to resolve merchant identifier: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan merchant identifier id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over merchant identifiers: %w", err)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s %s for %s", merchant.ErrMissingMID, lookup.Type, lookup.Value, providerSlug)
	}
	return ids, nil
}

func (r *MerchantRepository) GetByIDs(ctx context.Context, ids []int64) ([]*merchant.Identifier, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, identifier, identifier_type, payment_provider_slug, loyalty_scheme_slug, location_id, created_at
		FROM merchant_identifiers
		WHERE id = ANY($1)
		ORDER BY id
	`

	rows, err := r.querier.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error("Failed to load merchant identifiers", "count", len(ids), "error", err)
		return nil, fmt.Errorf("failed to load merchant identifiers: %w", err)
	}
	defer rows.Close()

	var identifiers []*merchant.Identifier
	for rows.Next() {
		var mid merchant.Identifier
		if err := rows.Scan(
			&mid.ID,
			&mid.Identifier,
			&mid.Type,
			&mid.PaymentProviderSlug,
			&mid.LoyaltySchemeSlug,
			&mid.LocationID,
			&mid.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan merchant identifier: %w", err)
		}
		identifiers = append(identifiers, &mid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over merchant identifiers: %w", err)
	}

	return identifiers, nil
}
