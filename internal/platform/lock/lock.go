// Package lock provides the per-transaction exclusive lock used by concurrent importers
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reconciliation:lock:"

// releaseScript deletes the key only while it still holds our token, so a lock that
// expired and was taken by another importer is never released by the old holder
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Handle identifies one successful acquisition
type Handle struct {
	Key   string
	token string
}

// Locker is the distributed lock collaborator
type Locker interface {
	// Acquire returns ok=false without error when the key is held elsewhere
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, bool, error)
	Release(ctx context.Context, h *Handle) error
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: logger.With("component", "redis_lock"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, bool, error) {
	h := &Handle{Key: keyPrefix + key, token: uuid.NewString()}

	ok, err := l.client.SetNX(ctx, h.Key, h.token, ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire lock", "key", h.Key, "error", err)
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("Lock held elsewhere", "key", h.Key)
		return nil, false, nil
	}
	return h, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, l.client, []string{h.Key}, h.token).Int()
	if err != nil {
		l.logger.Error("Failed to release lock", "key", h.Key, "error", err)
		return fmt.Errorf("failed to release lock %s: %w", h.Key, err)
	}
	if deleted == 0 {
		l.logger.Warn("Lock expired before release", "key", h.Key)
	}
	return nil
}
