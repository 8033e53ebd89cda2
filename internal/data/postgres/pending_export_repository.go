package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// PendingExportRepository implements export.PendingRepository for PostgreSQL
type PendingExportRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewPendingExportRepository(logger *slog.Logger, db *persistence.PostgresDB) export.PendingRepository {
	return &PendingExportRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx binds the repository to tx so work-item changes commit with status changes
func (r *PendingExportRepository) WithTx(tx pgx.Tx) export.PendingRepository {
	return &PendingExportRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *PendingExportRepository) Create(ctx context.Context, pe *export.PendingExport) error {
	query := `
		INSERT INTO pending_exports (matched_transaction_id, provider_slug, retry_count, retry_at, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		pe.MatchedTransactionID,
		pe.ProviderSlug,
		pe.RetryCount,
		pe.RetryAt,
		pe.FailureReason,
		pe.CreatedAt,
		pe.UpdatedAt,
	).Scan(&pe.ID)
	if err != nil {
		r.logger.Error("Failed to create pending export",
			"matched_transaction_id", pe.MatchedTransactionID,
			"error", err,
		)
		return fmt.Errorf("failed to create pending export: %w", err)
	}

	return nil
}

const pendingExportColumns = `id, matched_transaction_id, provider_slug, retry_count, retry_at, failure_reason, created_at, updated_at`

func scanPendingExport(row pgx.Row, pe *export.PendingExport) error {
	return row.Scan(
		&pe.ID,
		&pe.MatchedTransactionID,
		&pe.ProviderSlug,
		&pe.RetryCount,
		&pe.RetryAt,
		&pe.FailureReason,
		&pe.CreatedAt,
		&pe.UpdatedAt,
	)
}

func (r *PendingExportRepository) GetByID(ctx context.Context, id int64) (*export.PendingExport, error) {
	query := `SELECT ` + pendingExportColumns + ` FROM pending_exports WHERE id = $1`

	var pe export.PendingExport
	if err := scanPendingExport(r.querier.QueryRow(ctx, query, id), &pe); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, export.ErrPendingExportNotFound{ID: id}
		}
		r.logger.Error("Failed to get pending export", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get pending export: %w", err)
	}
	return &pe, nil
}

// GetDue returns rows that may be attempted now, in FIFO order
func (r *PendingExportRepository) GetDue(ctx context.Context, providerSlug string, now time.Time, limit int) ([]*export.PendingExport, error) {
	query := `
		SELECT ` + pendingExportColumns + `
		FROM pending_exports
		WHERE provider_slug = $1 AND (retry_at IS NULL OR retry_at <= $2)
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, providerSlug, now, limit)
	if err != nil {
		r.logger.Error("Failed to get due pending exports", "provider_slug", providerSlug, "error", err)
		return nil, fmt.Errorf("failed to get due pending exports: %w", err)
	}
	defer rows.Close()

	var due []*export.PendingExport
	for rows.Next() {
		var pe export.PendingExport
		if err := scanPendingExport(rows, &pe); err != nil {
			r.logger.Error("Failed to scan pending export", "error", err)
			return nil, fmt.Errorf("failed to scan pending export: %w", err)
		}
		due = append(due, &pe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over pending exports: %w", err)
	}

	return due, nil
}

// UpdateRetry persists retry state; retry_count can only grow
func (r *PendingExportRepository) UpdateRetry(ctx context.Context, pe *export.PendingExport) error {
	query := `
		UPDATE pending_exports
		SET retry_count = $1, retry_at = $2, failure_reason = $3, updated_at = $4
		WHERE id = $5 AND retry_count <= $1
	`

	tag, err := r.querier.Exec(ctx, query, pe.RetryCount, pe.RetryAt, pe.FailureReason, pe.UpdatedAt, pe.ID)
	if err != nil {
		r.logger.Error("Failed to update pending export retry",
			"id", pe.ID,
			"retry_count", pe.RetryCount,
			"error", err,
		)
		return fmt.Errorf("failed to update pending export retry: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return export.ErrPendingExportNotFound{ID: pe.ID}
	}

	return nil
}

func (r *PendingExportRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM pending_exports WHERE id = $1`

	tag, err := r.querier.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete pending export", "id", id, "error", err)
		return fmt.Errorf("failed to delete pending export: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return export.ErrPendingExportNotFound{ID: id}
	}

	return nil
}

// ExportTransactionRepository implements export.Repository for PostgreSQL
type ExportTransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewExportTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) export.Repository {
	return &ExportTransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *ExportTransactionRepository) WithTx(tx pgx.Tx) export.Repository {
	return &ExportTransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create keeps the first delivered payload when a retried commit re-inserts
func (r *ExportTransactionRepository) Create(ctx context.Context, et *export.ExportTransaction) error {
	query := `
		INSERT INTO export_transactions (matched_transaction_id, provider_slug, transaction_id, destination, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_slug, transaction_id) DO NOTHING
	`

	data := et.Data
	if len(data) == 0 {
		data = []byte(`{}`)
	}

	_, err := r.querier.Exec(ctx, query,
		et.MatchedTransactionID,
		et.ProviderSlug,
		et.TransactionID,
		et.Destination,
		data,
		et.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create export transaction",
			"provider_slug", et.ProviderSlug,
			"transaction_id", et.TransactionID,
			"error", err,
		)
		return fmt.Errorf("failed to create export transaction: %w", err)
	}

	return nil
}
