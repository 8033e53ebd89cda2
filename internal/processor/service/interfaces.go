package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/importing"
	"github.com/loyalty-reconciliation/internal/matching"
)

// ImportService imports one provider feed batch
type ImportService interface {
	ImportBatch(ctx context.Context, batch *shared.FeedBatch) (*importing.ImportResult, error)
}

// MatchService runs the matching pass over one import match group
type MatchService interface {
	Match(ctx context.Context, matchGroup uuid.UUID) ([]matching.MatchResult, error)
}
