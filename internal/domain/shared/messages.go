package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidFeedType   = errors.New("invalid feed type")
	ErrMissingProvider   = errors.New("provider slug is required")
	ErrInvalidMatchGroup = errors.New("match group is required")
)

// FeedBatch is the Kafka message published by queue-based provider adapters,
// one message per batch of canonical records
type FeedBatch struct {
	ProviderSlug  string           `json:"provider_slug"`
	FeedType      FeedType         `json:"feed_type"`
	Source        string           `json:"source"`
	Records       []map[string]any `json:"records"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

// Validate checks the envelope only; record-level problems are handled per record
func (b *FeedBatch) Validate() error {
	if b.ProviderSlug == "" {
		return ErrMissingProvider
	}
	if !b.FeedType.Valid() {
		return ErrInvalidFeedType
	}
	return nil
}

// MatchJob asks the matcher to run over one import match group
type MatchJob struct {
	MatchGroup    uuid.UUID `json:"match_group"`
	FeedType      FeedType  `json:"feed_type"`
	ProviderSlug  string    `json:"provider_slug"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (j *MatchJob) Validate() error {
	if j.MatchGroup == uuid.Nil {
		return ErrInvalidMatchGroup
	}
	if j.ProviderSlug == "" {
		return ErrMissingProvider
	}
	if !j.FeedType.Valid() {
		return ErrInvalidFeedType
	}
	return nil
}
