package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

const baseColumns = `id, provider_slug, transaction_id, merchant_identifier_ids, transaction_date, has_time,
		spend_amount, spend_multiplier, spend_currency, auth_code, first_six, last_four,
		status, match_group, extra_fields, created_at, updated_at`

const baseInsertColumns = `provider_slug, transaction_id, merchant_identifier_ids, transaction_date, has_time,
		spend_amount, spend_multiplier, spend_currency, auth_code, first_six, last_four,
		status, match_group, extra_fields, created_at, updated_at`

const baseInsertCount = 16

func baseScanTargets(b *transaction.Base) []interface{} {
	return []interface{}{
		&b.ID,
		&b.ProviderSlug,
		&b.TransactionID,
		&b.MerchantIdentifierIDs,
		&b.TransactionDate,
		&b.HasTime,
		&b.SpendAmount,
		&b.SpendMultiplier,
		&b.SpendCurrency,
		&b.AuthCode,
		&b.FirstSix,
		&b.LastFour,
		&b.Status,
		&b.MatchGroup,
		&b.ExtraFields,
		&b.CreatedAt,
		&b.UpdatedAt,
	}
}

func baseInsertArgs(b *transaction.Base) []interface{} {
	extra := b.ExtraFields
	if extra == nil {
		extra = map[string]any{}
	}
	return []interface{}{
		b.ProviderSlug,
		b.TransactionID,
		b.MerchantIdentifierIDs,
		b.TransactionDate,
		b.HasTime,
		b.SpendAmount,
		b.SpendMultiplier,
		b.SpendCurrency,
		b.AuthCode,
		b.FirstSix,
		b.LastFour,
		b.Status,
		b.MatchGroup,
		extra,
		b.CreatedAt,
		b.UpdatedAt,
	}
}

// SchemeTransactionRepository implements transaction.SchemeRepository for PostgreSQL
type SchemeTransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewSchemeTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.SchemeRepository {
	return &SchemeTransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *SchemeTransactionRepository) WithTx(tx pgx.Tx) transaction.SchemeRepository {
	return &SchemeTransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// BulkCreate ignores rows that already exist for (provider_slug, transaction_id)
func (r *SchemeTransactionRepository) BulkCreate(ctx context.Context, txs []*transaction.SchemeTransaction) error {
	for _, window := range chunks(len(txs), maxBulkRows) {
		batch := txs[window[0]:window[1]]
		args := make([]interface{}, 0, len(batch)*baseInsertCount)
		for _, tx := range batch {
			args = append(args, baseInsertArgs(&tx.Base)...)
		}

		query := `
		INSERT INTO scheme_transactions (` + baseInsertColumns + `)
		VALUES ` + valuesClause(len(batch), baseInsertCount) + `
		ON CONFLICT (provider_slug, transaction_id) DO NOTHING
	`

		if _, err := r.querier.Exec(ctx, query, args...); err != nil {
			r.logger.Error("Failed to bulk insert scheme transactions", "rows", len(batch), "error", err)
			return fmt.Errorf("failed to bulk insert scheme transactions: %w", err)
		}
	}
	return nil
}

func (r *SchemeTransactionRepository) GetByID(ctx context.Context, id int64) (*transaction.SchemeTransaction, error) {
	query := `SELECT ` + baseColumns + ` FROM scheme_transactions WHERE id = $1`

	var tx transaction.SchemeTransaction
	if err := r.querier.QueryRow(ctx, query, id).Scan(baseScanTargets(&tx.Base)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{Side: transaction.SideScheme, ID: id}
		}
		r.logger.Error("Failed to get scheme transaction", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get scheme transaction: %w", err)
	}
	return &tx, nil
}

func (r *SchemeTransactionRepository) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.SchemeTransaction, error) {
	query := `SELECT ` + baseColumns + ` FROM scheme_transactions WHERE match_group = $1 ORDER BY id`
	return r.list(ctx, "match group", query, matchGroup)
}

func (r *SchemeTransactionRepository) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.SchemeTransaction, error) {
	query := `SELECT ` + baseColumns + ` FROM scheme_transactions
		WHERE provider_slug = $1
		  AND status = 'PENDING'
		  AND spend_amount = $2
		  AND merchant_identifier_ids && $3
		  AND created_at >= $4
		ORDER BY id`
	return r.list(ctx, "candidates", query, q.ProviderSlug, q.SpendAmount, q.MerchantIdentifierIDs, q.Since)
}

func (r *SchemeTransactionRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*transaction.SchemeTransaction, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list scheme transactions", "by", what, "error", err)
		return nil, fmt.Errorf("failed to list scheme transactions by %s: %w", what, err)
	}
	defer rows.Close()

	var txs []*transaction.SchemeTransaction
	for rows.Next() {
		var tx transaction.SchemeTransaction
		if err := rows.Scan(baseScanTargets(&tx.Base)...); err != nil {
			return nil, fmt.Errorf("failed to scan scheme transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over scheme transactions: %w", err)
	}
	return txs, nil
}

// MarkMatched is the compare-and-set that makes a row matchable only once
func (r *SchemeTransactionRepository) MarkMatched(ctx context.Context, id int64) error {
	return markMatched(ctx, r.querier, r.logger, "scheme_transactions", transaction.SideScheme, id)
}

// PaymentTransactionRepository implements transaction.PaymentRepository for PostgreSQL
type PaymentTransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewPaymentTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.PaymentRepository {
	return &PaymentTransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *PaymentTransactionRepository) WithTx(tx pgx.Tx) transaction.PaymentRepository {
	return &PaymentTransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const paymentColumns = baseColumns + `, card_token, settlement_key, user_identity_id`

const paymentInsertCount = baseInsertCount + 2

func paymentScanTargets(p *transaction.PaymentTransaction) []interface{} {
	return append(baseScanTargets(&p.Base), &p.CardToken, &p.SettlementKey, &p.UserIdentityID)
}

func (r *PaymentTransactionRepository) BulkCreate(ctx context.Context, txs []*transaction.PaymentTransaction) error {
	for _, window := range chunks(len(txs), maxBulkRows) {
		batch := txs[window[0]:window[1]]
		args := make([]interface{}, 0, len(batch)*paymentInsertCount)
		for _, tx := range batch {
			args = append(args, baseInsertArgs(&tx.Base)...)
			args = append(args, tx.CardToken, tx.SettlementKey)
		}

		query := `
		INSERT INTO payment_transactions (` + baseInsertColumns + `, card_token, settlement_key)
		VALUES ` + valuesClause(len(batch), paymentInsertCount) + `
		ON CONFLICT (provider_slug, transaction_id) DO NOTHING
	`

		if _, err := r.querier.Exec(ctx, query, args...); err != nil {
			r.logger.Error("Failed to bulk insert payment transactions", "rows", len(batch), "error", err)
			return fmt.Errorf("failed to bulk insert payment transactions: %w", err)
		}
	}
	return nil
}

func (r *PaymentTransactionRepository) GetByID(ctx context.Context, id int64) (*transaction.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`

	var tx transaction.PaymentTransaction
	if err := r.querier.QueryRow(ctx, query, id).Scan(paymentScanTargets(&tx)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{Side: transaction.SidePayment, ID: id}
		}
		r.logger.Error("Failed to get payment transaction", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &tx, nil
}

func (r *PaymentTransactionRepository) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE match_group = $1 ORDER BY id`
	return r.list(ctx, "match group", query, matchGroup)
}

// FindCandidates spans all payment providers; q.ProviderSlug is ignored
func (r *PaymentTransactionRepository) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions
		WHERE status = 'PENDING'
		  AND spend_amount = $1
		  AND merchant_identifier_ids && $2
		  AND created_at >= $3
		ORDER BY id`
	return r.list(ctx, "candidates", query, q.SpendAmount, q.MerchantIdentifierIDs, q.Since)
}

func (r *PaymentTransactionRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*transaction.PaymentTransaction, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list payment transactions", "by", what, "error", err)
		return nil, fmt.Errorf("failed to list payment transactions by %s: %w", what, err)
	}
	defer rows.Close()

	var txs []*transaction.PaymentTransaction
	for rows.Next() {
		var tx transaction.PaymentTransaction
		if err := rows.Scan(paymentScanTargets(&tx)...); err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payment transactions: %w", err)
	}
	return txs, nil
}

func (r *PaymentTransactionRepository) MarkMatched(ctx context.Context, id int64) error {
	return markMatched(ctx, r.querier, r.logger, "payment_transactions", transaction.SidePayment, id)
}

func (r *PaymentTransactionRepository) SetUserIdentity(ctx context.Context, id int64, userIdentityID int64) error {
	query := `UPDATE payment_transactions SET user_identity_id = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.querier.Exec(ctx, query, userIdentityID, id)
	if err != nil {
		r.logger.Error("Failed to attach user identity", "id", id, "error", err)
		return fmt.Errorf("failed to attach user identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transaction.ErrTransactionNotFound{Side: transaction.SidePayment, ID: id}
	}
	return nil
}

// markMatched reports ErrAlreadyMatched whenever no PENDING row was flipped,
// including for unknown IDs, since callers have already loaded the row
func markMatched(ctx context.Context, q persistence.Querier, logger *slog.Logger, table string, side transaction.Side, id int64) error {
	query := `UPDATE ` + table + ` SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`

	tag, err := q.Exec(ctx, query, shared.TransactionStatusMatched, id, shared.TransactionStatusPending)
	if err != nil {
		logger.Error("Failed to mark transaction matched", "side", string(side), "id", id, "error", err)
		return fmt.Errorf("failed to mark %s transaction matched: %w", side, err)
	}
	if tag.RowsAffected() == 0 {
		return transaction.ErrAlreadyMatched{Side: side, ID: id}
	}
	return nil
}
