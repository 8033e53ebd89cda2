package audit

import (
	"context"
	"time"
)

// Outcome is the classification of one export attempt
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeRetryable    Outcome = "RETRYABLE"
	OutcomeTerminal     Outcome = "TERMINAL"
	OutcomeDeferInitial Outcome = "DEFER_INITIAL"
	OutcomeAbandoned    Outcome = "ABANDONED"
)

// Message is the immutable audit record of a single export attempt.
// It is produced for every attempt, including simulated ones.
type Message struct {
	ProviderSlug      string    `json:"provider_slug" bson:"provider_slug"`
	TransactionID     string    `json:"transaction_id" bson:"transaction_id"`
	ExportID          string    `json:"export_id,omitempty" bson:"export_id,omitempty"`
	RequestBody       string    `json:"request_body" bson:"request_body"`
	RequestTimestamp  time.Time `json:"request_timestamp" bson:"request_timestamp"`
	ResponseBody      string    `json:"response_body" bson:"response_body"`
	ResponseStatus    int       `json:"response_status" bson:"response_status"`
	ResponseTimestamp time.Time `json:"response_timestamp" bson:"response_timestamp"`
	RetryCount        int       `json:"retry_count" bson:"retry_count"`
	Outcome           Outcome   `json:"outcome" bson:"outcome"`
	Simulated         bool      `json:"simulated,omitempty" bson:"simulated,omitempty"`
}

// Repository archives audit messages
type Repository interface {
	Create(ctx context.Context, msg *Message) error
	GetByTransactionID(ctx context.Context, providerSlug, transactionID string) ([]*Message, error)
}
