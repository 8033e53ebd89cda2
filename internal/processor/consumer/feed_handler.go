package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/processor/service"
)

// FeedAcceptor reports whether a provider is registered for a feed type
type FeedAcceptor func(providerSlug string, feedType shared.FeedType) bool

// FeedHandler handles provider feed batches from Kafka
type FeedHandler struct {
	importService service.ImportService
	accepts       FeedAcceptor
	producer      producers.DeadLetterPublisher
	topic         string
	logger        *slog.Logger
}

// NewFeedHandler creates a new handler
func NewFeedHandler(
	logger *slog.Logger,
	importService service.ImportService,
	accepts FeedAcceptor,
	producer producers.DeadLetterPublisher,
	topic string,
) *FeedHandler {
	return &FeedHandler{
		importService: importService,
		accepts:       accepts,
		producer:      producer,
		topic:         topic,
		logger:        logger,
	}
}

// HandleMessage processes Kafka messages
func (h *FeedHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var batch shared.FeedBatch
	if err := json.Unmarshal(value, &batch); err != nil {
		h.logger.Error("Failed to unmarshal feed batch from Kafka message", "error", err, "message_key", string(key))
		return deadLetter(ctx, h.logger, h.producer, h.letter(key, value, producers.StageDecode, ""), err)
	}
	if err := batch.Validate(); err != nil {
		h.logger.Error("Invalid feed batch envelope", "error", err, "message_key", string(key))
		return deadLetter(ctx, h.logger, h.producer, h.letter(key, value, producers.StageValidate, batch.ProviderSlug), err)
	}
	if !h.accepts(batch.ProviderSlug, batch.FeedType) {
		err := shared.ErrUnknownProvider{Slug: batch.ProviderSlug}
		h.logger.Error("Feed batch for unregistered provider", "provider_slug", batch.ProviderSlug, "feed_type", batch.FeedType)
		return deadLetter(ctx, h.logger, h.producer, h.letter(key, value, producers.StageRoute, batch.ProviderSlug), err)
	}

	logger := h.logger.With("provider_slug", batch.ProviderSlug, "feed_type", batch.FeedType)
	if batch.CorrelationID != "" {
		logger = logger.With("correlation_id", batch.CorrelationID)
	}
	logger.Info("Received feed batch", "records", len(batch.Records), "source", batch.Source)

	res, err := h.importService.ImportBatch(ctx, &batch)
	if err != nil {
		logger.Error("Failed to import feed batch", "error", err)
		return fmt.Errorf("importing feed batch from %s failed: %w", batch.ProviderSlug, err)
	}

	logger.Info("Feed batch imported",
		"match_group", res.MatchGroup.String(),
		"imported", res.Imported,
		"duplicates", res.Duplicates,
		"locked", res.Locked,
		"invalid", res.Invalid,
		"unidentified", res.Unidentified,
	)
	return nil
}

func (h *FeedHandler) letter(key, value []byte, stage, providerSlug string) producers.DeadLetter {
	return producers.DeadLetter{
		Key:          key,
		Value:        value,
		SourceTopic:  h.topic,
		Stage:        stage,
		ProviderSlug: providerSlug,
	}
}
