package setting

import (
	"context"
	"time"
)

// Item is one runtime-tunable configuration value
type Item struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository interface {
	Get(ctx context.Context, key string) (*Item, error)
	Upsert(ctx context.Context, item *Item) error
}

// ErrItemNotFound indicates an unset configuration key
type ErrItemNotFound struct {
	Key string
}

func (e ErrItemNotFound) Error() string {
	return "config item not found: " + e.Key
}

func (e ErrItemNotFound) Is(target error) bool {
	t, ok := target.(ErrItemNotFound)
	if !ok {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}
