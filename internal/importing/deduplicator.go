// Package importing ingests provider feed batches exactly once per
// (provider_slug, transaction_id) and hands identified records to matching.
package importing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/imports"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// ImportResult counts what happened to each record of a batch
type ImportResult struct {
	Imported     int
	Duplicates   int
	Locked       int // Held by a concurrent importer; picked up on redelivery
	Invalid      int
	Unidentified int
	MatchGroup   uuid.UUID
}

type Deps struct {
	DB        persistence.TxRunner
	Imports   imports.Repository
	Schemes   transaction.SchemeRepository
	Payments  transaction.PaymentRepository
	Merchants merchant.Repository
	Locker    lock.Locker
	MatchJobs producers.MessagePublisher
	Metrics   *metrics.Metrics
	Adapters  map[string]ImportAdapter // Per provider; CanonicalAdapter otherwise
	LockTTL   time.Duration
	Logger    *slog.Logger
}

type Deduplicator struct {
	db        persistence.TxRunner
	imports   imports.Repository
	schemes   transaction.SchemeRepository
	payments  transaction.PaymentRepository
	merchants merchant.Repository
	locker    lock.Locker
	matchJobs producers.MessagePublisher
	metrics   *metrics.Metrics
	adapters  map[string]ImportAdapter
	lockTTL   time.Duration
	logger    *slog.Logger
}

func NewDeduplicator(d Deps) *Deduplicator {
	return &Deduplicator{
		db:        d.DB,
		imports:   d.Imports,
		schemes:   d.Schemes,
		payments:  d.Payments,
		merchants: d.Merchants,
		locker:    d.Locker,
		matchJobs: d.MatchJobs,
		metrics:   d.Metrics,
		adapters:  d.Adapters,
		lockTTL:   d.LockTTL,
		logger:    d.Logger,
	}
}

// candidate is a record that survived dedupe and holds its lock
type candidate struct {
	rec    CanonicalRecord
	txID   string
	handle *lock.Handle
}

// Import runs one batch and returns the number of newly imported records
func (s *Deduplicator) Import(ctx context.Context, providerSlug string, feedType shared.FeedType, records []CanonicalRecord, source string) (int, error) {
	res, err := s.ImportBatch(ctx, &shared.FeedBatch{
		ProviderSlug: providerSlug,
		FeedType:     feedType,
		Source:       source,
		Records:      records,
	})
	if err != nil {
		return 0, err
	}
	return res.Imported, nil
}

// ImportBatch dedupes, locks, resolves and persists one feed batch. A persistence
// error aborts the whole batch; per-record problems are logged and counted.
func (s *Deduplicator) ImportBatch(ctx context.Context, batch *shared.FeedBatch) (*ImportResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &ImportResult{MatchGroup: uuid.New()}
	logger := s.logger.With(
		"provider_slug", batch.ProviderSlug,
		"feed_type", batch.FeedType,
		"match_group", res.MatchGroup.String(),
	)
	if batch.CorrelationID != "" {
		logger = logger.With("correlation_id", batch.CorrelationID)
	}
	adapter := s.adapterFor(batch.ProviderSlug)

	// 1. Compute transaction ids and drop in-batch repeats
	var fresh []candidate
	var ids []string
	seen := make(map[string]struct{}, len(batch.Records))
	for i, rec := range batch.Records {
		txID, err := adapter.TransactionID(rec)
		if err != nil || txID == "" {
			logger.Warn("Skipping record without transaction id", "index", i, "error", err)
			res.Invalid++
			continue
		}
		if _, dup := seen[txID]; dup {
			res.Duplicates++
			continue
		}
		seen[txID] = struct{}{}
		fresh = append(fresh, candidate{rec: rec, txID: txID})
		ids = append(ids, txID)
	}

	// 2. One lookup against the store for everything already imported
	if len(ids) > 0 {
		existing, err := s.imports.ExistingIDs(ctx, batch.ProviderSlug, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to classify batch: %w", err)
		}
		kept := fresh[:0]
		for _, c := range fresh {
			if _, dup := existing[c.txID]; dup {
				res.Duplicates++
				continue
			}
			kept = append(kept, c)
		}
		fresh = kept
	}

	// 3. Per-transaction locks; a held lock means another importer owns the record
	var locked []candidate
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for _, c := range locked {
			if err := s.locker.Release(releaseCtx, c.handle); err != nil {
				logger.Warn("Failed to release import lock", "transaction_id", c.txID, "error", err)
			}
		}
	}()
	for _, c := range fresh {
		h, ok, err := s.locker.Acquire(ctx, batch.ProviderSlug+":"+c.txID, s.lockTTL)
		if err != nil || !ok {
			logger.Info("Import lock not acquired, skipping record", "transaction_id", c.txID, "error", err)
			res.Locked++
			continue
		}
		c.handle = h
		locked = append(locked, c)
	}

	// 4. Decode and resolve merchant identifiers with a batch-scoped cache
	mids := NewIdentifierCache(s.merchants, batch.FeedType, batch.ProviderSlug)
	var importRows []*imports.ImportTransaction
	var schemeRows []*transaction.SchemeTransaction
	var paymentRows []*transaction.PaymentTransaction
	for _, c := range locked {
		decoded, err := adapter.Decode(c.rec)
		if err != nil {
			logger.Warn("Skipping malformed record", "transaction_id", c.txID, "error", err)
			res.Invalid++
			continue
		}

		midIDs, err := mids.Resolve(ctx, adapter.MerchantIdentifiers(c.rec))
		if err != nil {
			return nil, err
		}
		identified := len(midIDs) > 0
		if !identified {
			logger.Warn("No merchant identifier resolved, importing as unidentified", "transaction_id", c.txID)
			res.Unidentified++
		}

		data, err := json.Marshal(c.rec)
		if err != nil {
			logger.Warn("Skipping record that cannot be stored", "transaction_id", c.txID, "error", err)
			res.Invalid++
			continue
		}
		importRows = append(importRows, imports.NewImportTransaction(batch.ProviderSlug, c.txID, identified, res.MatchGroup, batch.Source, data))

		if !identified {
			continue
		}
		base := newBase(batch.ProviderSlug, c.txID, midIDs, decoded, res.MatchGroup)
		switch batch.FeedType {
		case shared.FeedTypeScheme:
			schemeRows = append(schemeRows, &transaction.SchemeTransaction{Base: base})
		case shared.FeedTypePayment:
			paymentRows = append(paymentRows, &transaction.PaymentTransaction{
				Base:          base,
				CardToken:     decoded.CardToken,
				SettlementKey: decoded.SettlementKey,
			})
		}
	}

	if len(importRows) == 0 {
		s.record(batch, res, start)
		logger.Info("Import batch produced no new records", "duplicates", res.Duplicates, "locked", res.Locked, "invalid", res.Invalid)
		return res, nil
	}

	// 5. Everything for the batch lands in one database transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		inserted, err := s.imports.WithTx(tx).BulkCreate(ctx, importRows)
		if err != nil {
			return err
		}
		res.Imported = int(inserted)

		if len(schemeRows) > 0 {
			if err := s.schemes.WithTx(tx).BulkCreate(ctx, schemeRows); err != nil {
				return err
			}
		}
		if len(paymentRows) > 0 {
			if err := s.payments.WithTx(tx).BulkCreate(ctx, paymentRows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Import batch aborted", "records", len(importRows), "error", err)
		return nil, fmt.Errorf("failed to persist import batch: %w", err)
	}

	// 6. Hand the match group to the matcher once the rows are visible
	if len(schemeRows)+len(paymentRows) > 0 {
		s.enqueue(ctx, logger, batch, res.MatchGroup)
	}

	s.record(batch, res, start)
	logger.Info("Import batch committed",
		"imported", res.Imported,
		"duplicates", res.Duplicates,
		"locked", res.Locked,
		"invalid", res.Invalid,
		"unidentified", res.Unidentified,
		"mid_lookups", mids.Lookups(),
	)
	return res, nil
}

// enqueue failures are logged only: the rows stay PENDING and are picked up when
// the other side of the match is imported
func (s *Deduplicator) enqueue(ctx context.Context, logger *slog.Logger, batch *shared.FeedBatch, matchGroup uuid.UUID) {
	job := &shared.MatchJob{
		MatchGroup:    matchGroup,
		FeedType:      batch.FeedType,
		ProviderSlug:  batch.ProviderSlug,
		CorrelationID: batch.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.matchJobs.Publish(ctx, matchGroup.String(), job); err != nil {
		logger.Error("Failed to enqueue match job", "error", err)
		s.metrics.Inc(metrics.ProcessImporter, string(batch.FeedType), batch.ProviderSlug, "enqueue_failed")
	}
}

func (s *Deduplicator) record(batch *shared.FeedBatch, res *ImportResult, start time.Time) {
	feed := string(batch.FeedType)
	s.metrics.Add(metrics.ProcessImporter, feed, batch.ProviderSlug, "imported", res.Imported)
	s.metrics.Add(metrics.ProcessImporter, feed, batch.ProviderSlug, "duplicate", res.Duplicates)
	s.metrics.Add(metrics.ProcessImporter, feed, batch.ProviderSlug, "lock_skipped", res.Locked)
	s.metrics.Add(metrics.ProcessImporter, feed, batch.ProviderSlug, "invalid", res.Invalid)
	s.metrics.Add(metrics.ProcessImporter, feed, batch.ProviderSlug, "unidentified", res.Unidentified)
	s.metrics.Observe(metrics.ProcessImporter, feed, batch.ProviderSlug, start)
}

func (s *Deduplicator) adapterFor(providerSlug string) ImportAdapter {
	if a, ok := s.adapters[providerSlug]; ok {
		return a
	}
	return CanonicalAdapter{DefaultCurrency: "GBP"}
}

func newBase(providerSlug, txID string, midIDs []int64, d *Decoded, matchGroup uuid.UUID) transaction.Base {
	now := time.Now().UTC()
	return transaction.Base{
		ProviderSlug:          providerSlug,
		TransactionID:         txID,
		MerchantIdentifierIDs: midIDs,
		TransactionDate:       d.Date,
		HasTime:               d.HasTime,
		SpendAmount:           d.SpendAmount,
		SpendMultiplier:       d.Multiplier,
		SpendCurrency:         d.Currency,
		AuthCode:              d.AuthCode,
		FirstSix:              d.FirstSix,
		LastFour:              d.LastFour,
		Status:                shared.TransactionStatusPending,
		MatchGroup:            matchGroup,
		ExtraFields:           d.Extra,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
