package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/processor/service"
)

// MatchJobHandler handles match jobs enqueued by the importer
type MatchJobHandler struct {
	matchService service.MatchService
	producer     producers.DeadLetterPublisher
	topic        string
	logger       *slog.Logger
}

func NewMatchJobHandler(
	logger *slog.Logger,
	matchService service.MatchService,
	producer producers.DeadLetterPublisher,
	topic string,
) *MatchJobHandler {
	return &MatchJobHandler{
		matchService: matchService,
		producer:     producer,
		topic:        topic,
		logger:       logger,
	}
}

// HandleMessage processes Kafka messages
func (h *MatchJobHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var job shared.MatchJob
	if err := json.Unmarshal(value, &job); err != nil {
		h.logger.Error("Failed to unmarshal match job from Kafka message", "error", err, "message_key", string(key))
		return deadLetter(ctx, h.logger, h.producer, producers.DeadLetter{Key: key, Value: value, SourceTopic: h.topic, Stage: producers.StageDecode}, err)
	}
	if err := job.Validate(); err != nil {
		h.logger.Error("Invalid match job", "error", err, "message_key", string(key))
		return deadLetter(ctx, h.logger, h.producer, producers.DeadLetter{
			Key:          key,
			Value:        value,
			SourceTopic:  h.topic,
			Stage:        producers.StageValidate,
			ProviderSlug: job.ProviderSlug,
		}, err)
	}

	logger := h.logger.With(
		"match_group", job.MatchGroup.String(),
		"provider_slug", job.ProviderSlug,
		"feed_type", job.FeedType,
	)
	if job.CorrelationID != "" {
		logger = logger.With("correlation_id", job.CorrelationID)
	}

	results, err := h.matchService.Match(ctx, job.MatchGroup)
	if err != nil {
		logger.Error("Failed to run match job", "error", err)
		return fmt.Errorf("match group %s failed: %w", job.MatchGroup.String(), err)
	}

	counts := make(map[matching.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	logger.Info("Match job finished",
		"results", len(results),
		"matched", counts[matching.OutcomeMatched],
		"no_candidate", counts[matching.OutcomeNoCandidate],
		"ambiguous", counts[matching.OutcomeAmbiguous],
		"failed", counts[matching.OutcomeFailed],
	)
	return nil
}
