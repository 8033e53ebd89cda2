// Package exporting delivers matched transactions to loyalty scheme award endpoints
// and drives the per-provider retry state of the pending export work queue.
package exporting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	auditmsg "github.com/loyalty-reconciliation/internal/domain/audit"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
)

// Outcome is the classification of one export attempt
type Outcome = auditmsg.Outcome

const (
	OutcomeSuccess      = auditmsg.OutcomeSuccess
	OutcomeRetryable    = auditmsg.OutcomeRetryable
	OutcomeTerminal     = auditmsg.OutcomeTerminal
	OutcomeDeferInitial = auditmsg.OutcomeDeferInitial
	OutcomeAbandoned    = auditmsg.OutcomeAbandoned
)

// ExportItem is everything an agent needs to build and send one export
type ExportItem struct {
	Pending  *export.PendingExport
	Matched  *matched.MatchedTransaction
	Identity *transaction.UserIdentity // Nil when the identity service could not resolve it
	ExportID string
}

// AttemptRecord is one request/response exchange made while exporting
type AttemptRecord struct {
	RequestBody    []byte
	RequestedAt    time.Time
	ResponseBody   []byte
	ResponseStatus int
	RespondedAt    time.Time
}

// Result is returned by every export attempt; the state machine acts on Outcome
type Result struct {
	Outcome     Outcome
	Reason      string
	Delay       time.Duration // Only for OutcomeDeferInitial
	Destination string
	Payload     []byte
	Simulated   bool
	Audit       []AttemptRecord
}

// Agent exports matched transactions for one loyalty scheme
type Agent interface {
	ProviderSlug() string
	Export(ctx context.Context, item *ExportItem) Result
	RetryPolicy() RetryPolicy
}

// ExportID derives the deterministic transaction id sent to providers so the
// receiving system can drop a repeated delivery
func ExportID(m *matched.MatchedTransaction) string {
	sum := sha256.Sum256([]byte(m.TransactionID + "|" + m.TransactionDate.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}
