package consumer

import (
	"context"

	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/importing"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/stretchr/testify/mock"
)

type MockImportService struct {
	mock.Mock
}

func (m *MockImportService) ImportBatch(ctx context.Context, batch *shared.FeedBatch) (*importing.ImportResult, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importing.ImportResult), args.Error(1)
}

type MockMatchService struct {
	mock.Mock
}

func (m *MockMatchService) Match(ctx context.Context, matchGroup uuid.UUID) ([]matching.MatchResult, error) {
	args := m.Called(ctx, matchGroup)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]matching.MatchResult), args.Error(1)
}

type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishDeadLetter(ctx context.Context, dl producers.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}
