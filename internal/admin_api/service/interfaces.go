package service

import (
	"context"

	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/setting"
)

// MatchService defines the manual redress operations
type MatchService interface {
	// ForceMatch pairs a pending payment transaction with a pending scheme transaction.
	// Returns ErrTransactionNotFound, ErrAlreadyMatched or *matching.RedressError.
	ForceMatch(ctx context.Context, paymentTransactionID, schemeTransactionID int64) (*matched.MatchedTransaction, error)

	// GetMatchedTransaction returns ErrMatchedTransactionNotFound for unknown ids
	GetMatchedTransaction(ctx context.Context, id int64) (*matched.MatchedTransaction, error)
}

// ConfigService defines the runtime configuration operations
type ConfigService interface {
	// GetConfig returns ErrItemNotFound for unset keys
	GetConfig(ctx context.Context, key string) (*setting.Item, error)
	SetConfig(ctx context.Context, key, value string) (*setting.Item, error)
}
