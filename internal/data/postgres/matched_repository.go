package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// MatchedRepository implements matched.Repository for PostgreSQL
type MatchedRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewMatchedRepository(logger *slog.Logger, db *persistence.PostgresDB) matched.Repository {
	return &MatchedRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *MatchedRepository) WithTx(tx pgx.Tx) matched.Repository {
	return &MatchedRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *MatchedRepository) Create(ctx context.Context, m *matched.MatchedTransaction) error {
	query := `
		INSERT INTO matched_transactions (
			provider_slug, transaction_id, merchant_identifier_id, payment_transaction_id, scheme_transaction_id,
			transaction_date, spend_amount, spend_multiplier, spend_currency, card_token, auth_code,
			matching_type, status, extra_fields, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	extra := m.ExtraFields
	if extra == nil {
		extra = map[string]any{}
	}

	err := r.querier.QueryRow(ctx, query,
		m.ProviderSlug,
		m.TransactionID,
		m.MerchantIdentifierID,
		m.PaymentTransactionID,
		m.SchemeTransactionID,
		m.TransactionDate,
		m.SpendAmount,
		m.SpendMultiplier,
		m.SpendCurrency,
		m.CardToken,
		m.AuthCode,
		m.MatchingType,
		m.Status,
		extra,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		r.logger.Error("Failed to create matched transaction",
			"provider_slug", m.ProviderSlug,
			"payment_transaction_id", m.PaymentTransactionID,
			"error", err,
		)
		return fmt.Errorf("failed to create matched transaction: %w", err)
	}

	return nil
}

func (r *MatchedRepository) GetByID(ctx context.Context, id int64) (*matched.MatchedTransaction, error) {
	query := `
		SELECT id, provider_slug, transaction_id, merchant_identifier_id, payment_transaction_id, scheme_transaction_id,
		       transaction_date, spend_amount, spend_multiplier, spend_currency, card_token, auth_code,
		       matching_type, status, extra_fields, created_at, updated_at
		FROM matched_transactions
		WHERE id = $1
	`

	var m matched.MatchedTransaction
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.ProviderSlug,
		&m.TransactionID,
		&m.MerchantIdentifierID,
		&m.PaymentTransactionID,
		&m.SchemeTransactionID,
		&m.TransactionDate,
		&m.SpendAmount,
		&m.SpendMultiplier,
		&m.SpendCurrency,
		&m.CardToken,
		&m.AuthCode,
		&m.MatchingType,
		&m.Status,
		&m.ExtraFields,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, matched.ErrMatchedTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to get matched transaction", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get matched transaction: %w", err)
	}

	return &m, nil
}

// UpdateStatus only moves rows out of PENDING
func (r *MatchedRepository) UpdateStatus(ctx context.Context, id int64, status shared.MatchedStatus) error {
	query := `
		UPDATE matched_transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	tag, err := r.querier.Exec(ctx, query, status, id, shared.MatchedStatusPending)
	if err != nil {
		r.logger.Error("Failed to update matched transaction status",
			"id", id,
			"status", string(status),
			"error", err,
		)
		return fmt.Errorf("failed to update matched transaction status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d to %s", matched.ErrInvalidStatusTransition, id, status)
	}

	return nil
}
