package export

import (
	"encoding/json"
	"time"
)

// PendingExport is the work-queue row owed for a matched transaction
type PendingExport struct {
	ID                   int64      `json:"id"`
	MatchedTransactionID int64      `json:"matched_transaction_id"`
	ProviderSlug         string     `json:"provider_slug"`
	RetryCount           int        `json:"retry_count"`
	RetryAt              *time.Time `json:"retry_at,omitempty"`
	FailureReason        *string    `json:"failure_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func NewPendingExport(matchedTransactionID int64, providerSlug string) *PendingExport {
	now := time.Now().UTC()
	return &PendingExport{
		MatchedTransactionID: matchedTransactionID,
		ProviderSlug:         providerSlug,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Due reports whether the row may be attempted at now
func (p *PendingExport) Due(now time.Time) bool {
	return p.RetryAt == nil || !p.RetryAt.After(now)
}

// RecordFailure counts a failed attempt and schedules the next one
func (p *PendingExport) RecordFailure(reason string, retryAt time.Time) {
	p.RetryCount++
	p.RetryAt = &retryAt
	p.FailureReason = &reason
	p.UpdatedAt = time.Now().UTC()
}

// Defer pushes the first attempt back without spending retry budget
func (p *PendingExport) Defer(until time.Time, reason string) {
	p.RetryAt = &until
	p.FailureReason = &reason
	p.UpdatedAt = time.Now().UTC()
}

// ExportTransaction is the immutable record of a payload delivered to a provider
type ExportTransaction struct {
	ID                   int64           `json:"id"`
	MatchedTransactionID int64           `json:"matched_transaction_id"`
	ProviderSlug         string          `json:"provider_slug"`
	TransactionID        string          `json:"transaction_id"`
	Destination          string          `json:"destination"`
	Data                 json.RawMessage `json:"data"`
	CreatedAt            time.Time       `json:"created_at"`
}
