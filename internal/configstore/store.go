// Package configstore serves per-provider runtime settings such as export schedules,
// base URLs and batch sizes. Values live in Postgres and are cached in Redis.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/setting"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "reconciliation:config:"

// Getter is the read side used by workers
type Getter interface {
	Get(ctx context.Context, key string) (string, error)
}

type Store struct {
	redis  redis.UniversalClient
	repo   setting.Repository
	ttl    time.Duration
	logger *slog.Logger
}

var _ Getter = (*Store)(nil)

func NewStore(client redis.UniversalClient, repo setting.Repository, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		redis:  client,
		repo:   repo,
		ttl:    ttl,
		logger: logger.With("component", "config_store"),
	}
}

// Key builds the namespaced key for a provider setting, e.g. "bonus-card.export_schedule"
func Key(providerSlug, name string) string {
	return providerSlug + "." + name
}

// Get returns the value for key. A Redis failure falls back to Postgres; an unset key
// returns setting.ErrItemNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	cached, err := s.redis.Get(ctx, cachePrefix+key).Result()
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("Config cache read failed, falling back to Postgres", "key", key, "error", err)
	}

	item, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, setting.ErrItemNotFound{}) {
			return "", err
		}
		return "", fmt.Errorf("failed to load config %s: %w", key, err)
	}

	if err := s.redis.Set(ctx, cachePrefix+key, item.Value, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to populate config cache", "key", key, "error", err)
	}
	return item.Value, nil
}

// GetString returns def when the key is unset or cannot be read
func (s *Store) GetString(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, setting.ErrItemNotFound{}) {
			s.logger.Error("Failed to read config, using default", "key", key, "default", def, "error", err)
		}
		return def
	}
	return v
}

// GetInt returns def when the key is unset, unreadable or not a positive integer
func (s *Store) GetInt(ctx context.Context, key string, def int) int {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		s.logger.Warn("Invalid integer config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

// Set persists the value and invalidates the cached copy
func (s *Store) Set(ctx context.Context, key, value string) error {
	item := &setting.Item{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := s.repo.Upsert(ctx, item); err != nil {
		return fmt.Errorf("failed to store config %s: %w", key, err)
	}
	if err := s.redis.Del(ctx, cachePrefix+key).Err(); err != nil {
		s.logger.Error("Failed to invalidate config cache", "key", key, "error", err)
		return fmt.Errorf("config %s stored but cache invalidation failed: %w", key, err)
	}
	s.logger.Info("Config updated", "key", key)
	return nil
}
