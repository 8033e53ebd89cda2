package exporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalty-reconciliation/internal/configstore"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
)

// Settings is the runtime configuration read before every run
type Settings interface {
	GetInt(ctx context.Context, key string, def int) int
}

// Handler processes a single pending export
type Handler interface {
	HandlePendingExport(ctx context.Context, pe *export.PendingExport) error
}

type RunnerDeps struct {
	Pending          export.PendingRepository
	Handler          Handler
	Settings         Settings
	Locker           lock.Locker
	DefaultBatchSize int
	LockTTL          time.Duration
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// Runner drains the due part of one provider's export queue per scheduled tick
type Runner struct {
	pending          export.PendingRepository
	handler          Handler
	settings         Settings
	locker           lock.Locker
	defaultBatchSize int
	lockTTL          time.Duration
	metrics          *metrics.Metrics
	logger           *slog.Logger
	now              func() time.Time
}

func NewRunner(d RunnerDeps) *Runner {
	ttl := d.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Runner{
		pending:          d.Pending,
		handler:          d.Handler,
		settings:         d.Settings,
		locker:           d.Locker,
		defaultBatchSize: d.DefaultBatchSize,
		lockTTL:          ttl,
		metrics:          d.Metrics,
		logger:           d.Logger.With("component", "export_runner"),
		now:              time.Now,
	}
}

// RunDue handles every due pending export of providerSlug, up to the provider's batch
// size. Failures of individual items are logged and do not stop the batch. It returns
// the number of items handled without error.
func (r *Runner) RunDue(ctx context.Context, providerSlug string) (int, error) {
	logger := r.logger.With("provider_slug", providerSlug)

	// A second exporter instance skips the provider while this run holds it
	if r.locker != nil {
		h, ok, err := r.locker.Acquire(ctx, "export:"+providerSlug, r.lockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			logger.Info("Export run already in progress elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			_ = r.locker.Release(context.WithoutCancel(ctx), h)
		}()
	}

	batchSize := r.settings.GetInt(ctx, configstore.Key(providerSlug, "export_batch_size"), r.defaultBatchSize)

	due, err := r.pending.GetDue(ctx, providerSlug, r.now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get due pending exports: %w", err)
	}
	r.metrics.SetDue(providerSlug, len(due))

	if len(due) == 0 {
		logger.Debug("No pending exports due")
		return 0, nil
	}
	logger.Info("Fetched due pending exports", "count", len(due), "batch_size", batchSize)

	handled := 0
	for _, pe := range due {
		if ctx.Err() != nil {
			logger.Warn("Export run interrupted", "handled", handled, "error", ctx.Err())
			return handled, ctx.Err()
		}
		if err := r.handler.HandlePendingExport(ctx, pe); err != nil {
			logger.Error("Failed to handle pending export",
				"pending_export_id", pe.ID,
				"matched_transaction_id", pe.MatchedTransactionID,
				"error", err,
			)
			continue
		}
		handled++
	}

	logger.Info("Export run finished", "handled", handled, "failed", len(due)-handled)
	return handled, nil
}
