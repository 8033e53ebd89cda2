package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/setting"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// ConfigItemRepository implements setting.Repository over config_items
type ConfigItemRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewConfigItemRepository(logger *slog.Logger, db *persistence.PostgresDB) setting.Repository {
	return &ConfigItemRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *ConfigItemRepository) Get(ctx context.Context, key string) (*setting.Item, error) {
	query := `SELECT key, value, updated_at FROM config_items WHERE key = $1`

	var item setting.Item
	if err := r.querier.QueryRow(ctx, query, key).Scan(&item.Key, &item.Value, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, setting.ErrItemNotFound{Key: key}
		}
		r.logger.Error("Failed to get config item", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get config item: %w", err)
	}
	return &item, nil
}

func (r *ConfigItemRepository) Upsert(ctx context.Context, item *setting.Item) error {
	query := `
		INSERT INTO config_items (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.querier.Exec(ctx, query, item.Key, item.Value, item.UpdatedAt); err != nil {
		r.logger.Error("Failed to upsert config item", "key", item.Key, "error", err)
		return fmt.Errorf("failed to upsert config item: %w", err)
	}
	return nil
}
