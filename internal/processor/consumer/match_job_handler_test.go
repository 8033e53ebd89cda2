package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMatchJobHandler_HandleMessage(t *testing.T) {
	group := uuid.New()
	job := shared.MatchJob{
		MatchGroup:   group,
		FeedType:     shared.FeedTypePayment,
		ProviderSlug: "visa",
		Timestamp:    time.Now().UTC(),
	}
	jobJSON, err := json.Marshal(job)
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		svc := &MockMatchService{}
		svc.On("Match", mock.Anything, group).Return([]matching.MatchResult{
			{PaymentTransactionID: 1, Outcome: matching.OutcomeMatched},
			{PaymentTransactionID: 2, Outcome: matching.OutcomeNoCandidate},
		}, nil)

		err := NewMatchJobHandler(testLogger(), svc, nil, "match-jobs").HandleMessage(context.Background(), []byte(group.String()), jobJSON)
		assert.NoError(t, err)
		svc.AssertExpectations(t)
	})

	t.Run("MatchFailureIsRedelivered", func(t *testing.T) {
		svc := &MockMatchService{}
		svc.On("Match", mock.Anything, group).Return(nil, errors.New("db down"))

		err := NewMatchJobHandler(testLogger(), svc, nil, "match-jobs").HandleMessage(context.Background(), nil, jobJSON)
		require.Error(t, err)
		assert.Contains(t, err.Error(), group.String())
	})

	t.Run("MissingMatchGroupGoesToDLQ", func(t *testing.T) {
		svc := &MockMatchService{}
		dlq := &MockDeadLetterPublisher{}
		value := []byte(`{"feed_type":"PAYMENT","provider_slug":"visa"}`)
		dlq.On("PublishDeadLetter", mock.Anything, mock.MatchedBy(func(dl producers.DeadLetter) bool {
			return string(dl.Key) == "k" && dl.Stage == producers.StageValidate &&
				dl.SourceTopic == "match-jobs" && dl.ProviderSlug == "visa"
		})).Return(nil)

		err := NewMatchJobHandler(testLogger(), svc, dlq, "match-jobs").HandleMessage(context.Background(), []byte("k"), value)
		assert.NoError(t, err)
		dlq.AssertExpectations(t)
		svc.AssertNotCalled(t, "Match", mock.Anything, mock.Anything)
	})
}
