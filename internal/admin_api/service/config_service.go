package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/configstore"
	"github.com/loyalty-reconciliation/internal/domain/setting"
	"github.com/loyalty-reconciliation/internal/providers"
)

// ConfigStore is the read/write side of the runtime configuration
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

var _ ConfigStore = (*configstore.Store)(nil)

// ErrInvalidKey indicates a config key outside any registered provider namespace
type ErrInvalidKey struct {
	Key string
}

func (e ErrInvalidKey) Error() string {
	return fmt.Sprintf("invalid config key %q: expected <provider-slug>.<name>", e.Key)
}

// ConfigServiceImpl implements the ConfigService interface
type ConfigServiceImpl struct {
	store ConfigStore
	now   func() time.Time
}

// NewConfigService creates a new config service
func NewConfigService(store ConfigStore) ConfigService {
	return &ConfigServiceImpl{store: store, now: time.Now}
}

func (s *ConfigServiceImpl) GetConfig(ctx context.Context, key string) (*setting.Item, error) {
	value, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &setting.Item{Key: key, Value: value}, nil
}

// SetConfig validates the key namespace before writing through the store
func (s *ConfigServiceImpl) SetConfig(ctx context.Context, key, value string) (*setting.Item, error) {
	slug, name, ok := strings.Cut(key, ".")
	if !ok || name == "" {
		return nil, ErrInvalidKey{Key: key}
	}
	if _, err := providers.Get(slug); err != nil {
		return nil, ErrInvalidKey{Key: key}
	}

	if err := s.store.Set(ctx, key, value); err != nil {
		return nil, err
	}
	return &setting.Item{Key: key, Value: value, UpdatedAt: s.now().UTC()}, nil
}
