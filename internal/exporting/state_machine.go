package exporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/audit"
	auditmsg "github.com/loyalty-reconciliation/internal/domain/audit"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// IdentityResolver returns a persisted identity for a payment token
type IdentityResolver interface {
	Resolve(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error)
}

type Deps struct {
	DB         persistence.TxRunner
	Pending    export.PendingRepository
	Exports    export.Repository
	Matched    matched.Repository
	Payments   transaction.PaymentRepository
	Identities IdentityResolver
	Agents     map[string]Agent
	Audit      audit.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// StateMachine applies one export attempt to a pending export row
type StateMachine struct {
	db         persistence.TxRunner
	pending    export.PendingRepository
	exports    export.Repository
	matched    matched.Repository
	payments   transaction.PaymentRepository
	identities IdentityResolver
	agents     map[string]Agent
	audit      audit.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewStateMachine(d Deps) *StateMachine {
	return &StateMachine{
		db:         d.DB,
		pending:    d.Pending,
		exports:    d.Exports,
		matched:    d.Matched,
		payments:   d.Payments,
		identities: d.Identities,
		agents:     d.Agents,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// HandlePendingExport makes one export attempt for pe and persists the resulting
// state: success, a scheduled retry, a deferral, abandonment or terminal failure.
// The returned error is for infrastructure failures only; the row stays due and is
// picked up again on the next run.
func (m *StateMachine) HandlePendingExport(ctx context.Context, pe *export.PendingExport) error {
	logger := m.logger.With(
		"pending_export_id", pe.ID,
		"matched_transaction_id", pe.MatchedTransactionID,
		"provider_slug", pe.ProviderSlug,
		"retry_count", pe.RetryCount,
	)

	if !pe.Due(m.now()) {
		logger.Debug("Pending export not yet due", "retry_at", pe.RetryAt)
		return nil
	}

	agent, ok := m.agents[pe.ProviderSlug]
	if !ok {
		return shared.ErrUnknownProvider{Slug: pe.ProviderSlug}
	}

	// 1. Load the matched transaction; a row that already left PENDING is stale work
	mt, err := m.matched.GetByID(ctx, pe.MatchedTransactionID)
	if err != nil {
		return fmt.Errorf("failed to load matched transaction: %w", err)
	}
	if mt.Status != shared.MatchedStatusPending {
		logger.Warn("Matched transaction already settled, dropping work item", "status", mt.Status)
		return m.pending.Delete(ctx, pe.ID)
	}

	// 2. Identity is re-fetched here when matching could not resolve it
	item := &ExportItem{
		Pending:  pe,
		Matched:  mt,
		Identity: m.resolveIdentity(ctx, logger, mt),
		ExportID: ExportID(mt),
	}
	logger = logger.With("transaction_id", mt.TransactionID, "export_id", item.ExportID)

	// 3. Attempt and audit, whatever the outcome
	start := m.now()
	res := agent.Export(ctx, item)
	m.publishAudit(item, res)
	m.metrics.Observe(metrics.ProcessExporter, string(mt.MatchingType), pe.ProviderSlug, start)

	// 4. Persist the transition
	switch res.Outcome {
	case OutcomeSuccess:
		return m.succeed(ctx, logger, item, res)
	case OutcomeRetryable:
		return m.retry(ctx, logger, agent.RetryPolicy(), pe, res.Reason)
	case OutcomeDeferInitial:
		pe.Defer(m.now().Add(res.Delay).UTC(), res.Reason)
		if err := m.pending.UpdateRetry(ctx, pe); err != nil {
			return err
		}
		logger.Info("Export deferred", "retry_at", pe.RetryAt, "reason", res.Reason)
		m.metrics.Inc(metrics.ProcessExporter, string(mt.MatchingType), pe.ProviderSlug, "deferred")
		return nil
	case OutcomeAbandoned:
		return m.settle(ctx, logger, pe, shared.MatchedStatusAbandoned, res.Reason)
	default:
		return m.fail(ctx, logger, pe, res.Reason)
	}
}

func (m *StateMachine) succeed(ctx context.Context, logger *slog.Logger, item *ExportItem, res Result) error {
	pe, mt := item.Pending, item.Matched
	et := &export.ExportTransaction{
		MatchedTransactionID: mt.ID,
		ProviderSlug:         pe.ProviderSlug,
		TransactionID:        mt.TransactionID,
		Destination:          res.Destination,
		Data:                 res.Payload,
		CreatedAt:            m.now().UTC(),
	}

	err := m.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := m.exports.WithTx(tx).Create(ctx, et); err != nil {
			return err
		}
		if err := m.matched.WithTx(tx).UpdateStatus(ctx, mt.ID, shared.MatchedStatusExported); err != nil {
			return err
		}
		return m.pending.WithTx(tx).Delete(ctx, pe.ID)
	})
	if err != nil {
		logger.Error("Failed to record successful export", "error", err)
		return fmt.Errorf("failed to record export: %w", err)
	}

	logger.Info("Transaction exported", "destination", res.Destination, "simulated", res.Simulated)
	m.metrics.Inc(metrics.ProcessExporter, string(mt.MatchingType), pe.ProviderSlug, "exported")
	return nil
}

func (m *StateMachine) retry(ctx context.Context, logger *slog.Logger, policy RetryPolicy, pe *export.PendingExport, reason string) error {
	next, ok := policy.NextRetry(pe.RetryCount+1, m.now())
	if !ok {
		return m.fail(ctx, logger, pe, "retries exhausted: "+reason)
	}

	pe.RecordFailure(reason, next.UTC())
	if err := m.pending.UpdateRetry(ctx, pe); err != nil {
		return err
	}
	logger.Warn("Export failed, retry scheduled", "retry_count", pe.RetryCount, "retry_at", pe.RetryAt, "reason", reason)
	m.metrics.Inc(metrics.ProcessExporter, "", pe.ProviderSlug, "retry_scheduled")
	return nil
}

// fail is the one export condition that needs an operator
func (m *StateMachine) fail(ctx context.Context, logger *slog.Logger, pe *export.PendingExport, reason string) error {
	if err := m.settle(ctx, logger, pe, shared.MatchedStatusExportFailed, reason); err != nil {
		return err
	}
	logger.Error("Export failed permanently", "alert", true, "reason", reason)
	m.metrics.TerminalFailure(pe.ProviderSlug)
	return nil
}

// settle moves the matched transaction to a final status and deletes the work item
func (m *StateMachine) settle(ctx context.Context, logger *slog.Logger, pe *export.PendingExport, status shared.MatchedStatus, reason string) error {
	err := m.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := m.matched.WithTx(tx).UpdateStatus(ctx, pe.MatchedTransactionID, status); err != nil {
			return err
		}
		return m.pending.WithTx(tx).Delete(ctx, pe.ID)
	})
	if err != nil {
		logger.Error("Failed to settle pending export", "status", status, "error", err)
		return fmt.Errorf("failed to settle pending export as %s: %w", status, err)
	}
	if status == shared.MatchedStatusAbandoned {
		logger.Info("Export abandoned", "reason", reason)
		m.metrics.Inc(metrics.ProcessExporter, "", pe.ProviderSlug, "abandoned")
	}
	return nil
}

func (m *StateMachine) resolveIdentity(ctx context.Context, logger *slog.Logger, mt *matched.MatchedTransaction) *transaction.UserIdentity {
	identity, err := m.identities.Resolve(ctx, mt.ProviderSlug, mt.CardToken)
	if err != nil {
		logger.Warn("User identity unavailable for export", "error", err)
		return nil
	}

	payment, err := m.payments.GetByID(ctx, mt.PaymentTransactionID)
	if err != nil {
		logger.Warn("Failed to load payment transaction", "error", err)
		return identity
	}
	if payment.UserIdentityID == nil {
		if err := m.payments.SetUserIdentity(ctx, payment.ID, identity.ID); err != nil {
			logger.Warn("Failed to attach user identity", "error", err)
		}
	}
	return identity
}

func (m *StateMachine) publishAudit(item *ExportItem, res Result) {
	attempts := res.Audit
	if len(attempts) == 0 {
		now := m.now().UTC()
		attempts = []AttemptRecord{{RequestBody: res.Payload, RequestedAt: now, RespondedAt: now}}
	}
	for _, a := range attempts {
		m.audit.Publish(auditmsg.Message{
			ProviderSlug:      item.Pending.ProviderSlug,
			TransactionID:     item.Matched.TransactionID,
			ExportID:          item.ExportID,
			RequestBody:       string(a.RequestBody),
			RequestTimestamp:  a.RequestedAt,
			ResponseBody:      string(a.ResponseBody),
			ResponseStatus:    a.ResponseStatus,
			ResponseTimestamp: a.RespondedAt,
			RetryCount:        item.Pending.RetryCount,
			Outcome:           res.Outcome,
			Simulated:         res.Simulated,
		})
	}
}
