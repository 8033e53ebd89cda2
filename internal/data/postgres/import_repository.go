package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/imports"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

const importColumns = 7

// ImportRepository implements imports.Repository for PostgreSQL
type ImportRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewImportRepository(logger *slog.Logger, db *persistence.PostgresDB) imports.Repository {
	return &ImportRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *ImportRepository) WithTx(tx pgx.Tx) imports.Repository {
	return &ImportRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// ExistingIDs classifies a whole batch with a single indexed lookup
func (r *ImportRepository) ExistingIDs(ctx context.Context, providerSlug string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	query := `
		SELECT transaction_id
		FROM import_transactions
		WHERE provider_slug = $1 AND transaction_id = ANY($2)
	`

	rows, err := r.querier.Query(ctx, query, providerSlug, ids)
	if err != nil {
		r.logger.Error("Failed to query existing import transactions",
			"provider_slug", providerSlug,
			"batch_size", len(ids),
			"error", err,
		)
		return nil, fmt.Errorf("failed to query existing import transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan import transaction id: %w", err)
		}
		existing[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over import transaction ids: %w", err)
	}

	return existing, nil
}

// BulkCreate writes the batch in as few statements as the parameter limit allows.
// Callers run it inside a transaction so the batch is all-or-nothing.
func (r *ImportRepository) BulkCreate(ctx context.Context, rows []*imports.ImportTransaction) (int64, error) {
	var inserted int64

	for _, window := range chunks(len(rows), maxBulkRows) {
		batch := rows[window[0]:window[1]]
		args := make([]interface{}, 0, len(batch)*importColumns)
		for _, row := range batch {
			args = append(args,
				row.ProviderSlug,
				row.TransactionID,
				row.Identified,
				row.MatchGroup,
				row.Source,
				row.Data,
				row.CreatedAt,
			)
		}

		query := `
		INSERT INTO import_transactions (provider_slug, transaction_id, identified, match_group, source, data, created_at)
		VALUES ` + valuesClause(len(batch), importColumns) + `
		ON CONFLICT (provider_slug, transaction_id) DO NOTHING
	`

		tag, err := r.querier.Exec(ctx, query, args...)
		if err != nil {
			r.logger.Error("Failed to bulk insert import transactions",
				"rows", len(batch),
				"error", err,
			)
			return inserted, fmt.Errorf("failed to bulk insert import transactions: %w", err)
		}
		inserted += tag.RowsAffected()
	}

	return inserted, nil
}
