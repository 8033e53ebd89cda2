package importing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loyalty-reconciliation/internal/domain/imports"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *memStore
	merchants *MockMerchantRepository
	publisher *MockPublisher
	locker    *lock.RedisLocker
	redis     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &fixture{
		store:     newMemStore(),
		merchants: new(MockMerchantRepository),
		publisher: new(MockPublisher),
		locker:    lock.NewRedisLocker(client, testLogger()),
		redis:     mr,
	}
}

func (f *fixture) deduplicator(imp imports.Repository) *Deduplicator {
	if imp == nil {
		imp = memImports{f.store}
	}
	return NewDeduplicator(Deps{
		DB:        runTx{},
		Imports:   imp,
		Schemes:   memSchemes{f.store},
		Payments:  memPayments{f.store},
		Merchants: f.merchants,
		Locker:    f.locker,
		MatchJobs: f.publisher,
		LockTTL:   300 * time.Second,
		Logger:    testLogger(),
	})
}

func paymentRecord(txID, mid string) CanonicalRecord {
	return CanonicalRecord{
		"transaction_id": txID,
		"date":           "2024-05-01T10:00:00Z",
		"amount":         "12.34",
		"currency":       "GBP",
		"auth_code":      "A1",
		"card_token":     "tok-" + txID,
		"mid":            mid,
	}
}

func TestDeduplicator_ImportBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.merchants.On("Resolve", mock.Anything, shared.FeedTypePayment, "visa", merchant.Lookup{Value: "M1", Type: shared.IdentifierTypePrimary}).
		Return([]int64{1}, nil).Once()
	f.merchants.On("Resolve", mock.Anything, shared.FeedTypePayment, "visa", merchant.Lookup{Value: "UNKNOWN", Type: shared.IdentifierTypePrimary}).
		Return(nil, merchant.ErrMissingMID).Once()

	malformed := paymentRecord("tx-3", "M1")
	malformed["date"] = "yesterday"

	batch := &shared.FeedBatch{
		ProviderSlug:  "visa",
		FeedType:      shared.FeedTypePayment,
		Source:        "visa-feed.csv",
		CorrelationID: "corr-1",
		Records: []map[string]any{
			paymentRecord("tx-1", "M1"),
			paymentRecord("tx-2", "UNKNOWN"),
			malformed,
			paymentRecord("tx-1", "M1"),
			paymentRecord("tx-4", "M1"),
		},
	}

	var published *shared.MatchJob
	f.publisher.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("*shared.MatchJob")).
		Run(func(args mock.Arguments) { published = args.Get(2).(*shared.MatchJob) }).
		Return(nil).Once()

	res, err := f.deduplicator(nil).ImportBatch(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Unidentified)
	assert.Equal(t, 0, res.Locked)

	require.Len(t, f.store.imports, 3)
	assert.True(t, f.store.imports["visa:tx-1"].Identified)
	assert.False(t, f.store.imports["visa:tx-2"].Identified, "unresolved MIDs are still imported")
	assert.Equal(t, "visa-feed.csv", f.store.imports["visa:tx-2"].Source)

	require.Len(t, f.store.payments, 2)
	p := f.store.payments["visa:tx-1"]
	assert.Equal(t, []int64{1}, p.MerchantIdentifierIDs)
	assert.Equal(t, int64(1234), p.SpendAmount)
	assert.Equal(t, "tok-tx-1", p.CardToken)
	assert.Equal(t, shared.TransactionStatusPending, p.Status)
	assert.Equal(t, res.MatchGroup, p.MatchGroup)
	assert.Equal(t, res.MatchGroup, f.store.payments["visa:tx-4"].MatchGroup)

	require.NotNil(t, published)
	assert.Equal(t, res.MatchGroup, published.MatchGroup)
	assert.Equal(t, shared.FeedTypePayment, published.FeedType)
	assert.Equal(t, "corr-1", published.CorrelationID)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, res.MatchGroup.String(), mock.Anything)

	f.merchants.AssertNumberOfCalls(t, "Resolve", 2)
	assert.Empty(t, f.redis.Keys(), "every lock is released")
}

func TestDeduplicator_IdempotentReimport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.merchants.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]int64{7}, nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	records := []map[string]any{paymentRecord("tx-1", "M1"), paymentRecord("tx-2", "M1")}
	d := f.deduplicator(nil)

	imported, err := d.Import(ctx, "visa", shared.FeedTypePayment, records, "feed-1")
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	res, err := d.ImportBatch(ctx, &shared.FeedBatch{ProviderSlug: "visa", FeedType: shared.FeedTypePayment, Records: records})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 2, res.Duplicates)

	assert.Len(t, f.store.imports, 2)
	assert.Len(t, f.store.payments, 2)
	f.publisher.AssertExpectations(t)
}

func TestDeduplicator_SkipsRecordsLockedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.merchants.On("Resolve", mock.Anything, shared.FeedTypeScheme, "bonus-card", mock.Anything).Return([]int64{3}, nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	held, ok, err := f.locker.Acquire(ctx, "bonus-card:tx-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.deduplicator(nil).ImportBatch(ctx, &shared.FeedBatch{
		ProviderSlug: "bonus-card",
		FeedType:     shared.FeedTypeScheme,
		Records:      []map[string]any{paymentRecord("tx-1", "S1"), paymentRecord("tx-2", "S1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Locked)
	assert.Equal(t, 1, res.Imported)
	assert.Len(t, f.store.schemes, 1)
	assert.Contains(t, f.store.schemes, "bonus-card:tx-2")

	assert.True(t, f.redis.Exists("reconciliation:lock:bonus-card:tx-1"), "another importer's lock is untouched")
	require.NoError(t, f.locker.Release(ctx, held))
}

func TestDeduplicator_ConcurrentImportersCreateOneRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.merchants.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]int64{3}, nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	batch := &shared.FeedBatch{
		ProviderSlug: "bonus-card",
		FeedType:     shared.FeedTypeScheme,
		Records:      []map[string]any{paymentRecord("tx-1", "S1")},
	}

	var wg sync.WaitGroup
	results := make([]*ImportResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.deduplicator(nil).ImportBatch(ctx, batch)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, results[0].Imported+results[1].Imported, "exactly one importer creates the row")
	assert.Len(t, f.store.schemes, 1)
}

type failingImports struct {
	memImports
	err error
}

func (r failingImports) ExistingIDs(ctx context.Context, providerSlug string, ids []string) (map[string]struct{}, error) {
	return nil, r.err
}

func TestDeduplicator_BatchFailures(t *testing.T) {
	ctx := context.Background()
	batch := &shared.FeedBatch{
		ProviderSlug: "visa",
		FeedType:     shared.FeedTypePayment,
		Records:      []map[string]any{paymentRecord("tx-1", "M1"), paymentRecord("tx-2", "M1")},
	}

	t.Run("ClassificationErrorAbortsBeforeLocking", func(t *testing.T) {
		f := newFixture(t)
		dbErr := errors.New("connection refused")

		_, err := f.deduplicator(failingImports{memImports{f.store}, dbErr}).ImportBatch(ctx, batch)
		assert.ErrorIs(t, err, dbErr)
		assert.Empty(t, f.redis.Keys())
	})

	t.Run("InsertErrorAbortsWholeBatch", func(t *testing.T) {
		f := newFixture(t)
		f.merchants.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]int64{1}, nil)
		f.store.failBulk = errors.New("deadlock detected")

		_, err := f.deduplicator(nil).ImportBatch(ctx, batch)
		assert.ErrorIs(t, err, f.store.failBulk)
		assert.Empty(t, f.store.payments)
		assert.Empty(t, f.redis.Keys(), "locks are released on failure")
		f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MerchantLookupErrorAbortsBatch", func(t *testing.T) {
		f := newFixture(t)
		lookupErr := errors.New("statement timeout")
		f.merchants.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, lookupErr)

		_, err := f.deduplicator(nil).ImportBatch(ctx, batch)
		assert.ErrorIs(t, err, lookupErr)
		assert.Empty(t, f.store.imports)
		assert.Empty(t, f.redis.Keys())
	})

	t.Run("EnqueueFailureIsNotABatchError", func(t *testing.T) {
		f := newFixture(t)
		f.merchants.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]int64{1}, nil)
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

		res, err := f.deduplicator(nil).ImportBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Imported)
	})

	t.Run("InvalidEnvelope", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.deduplicator(nil).ImportBatch(ctx, &shared.FeedBatch{ProviderSlug: "visa", FeedType: "BOTH"})
		assert.ErrorIs(t, err, shared.ErrInvalidFeedType)
	})
}

func TestDeduplicator_LockErrorSkipsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locker := new(MockLocker)
	locker.On("Acquire", mock.Anything, "visa:tx-1", 300*time.Second).Return(nil, false, errors.New("redis timeout")).Once()

	d := f.deduplicator(nil)
	d.locker = locker

	res, err := d.ImportBatch(ctx, &shared.FeedBatch{
		ProviderSlug: "visa",
		FeedType:     shared.FeedTypePayment,
		Records:      []map[string]any{paymentRecord("tx-1", "M1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Locked)
	assert.Empty(t, f.store.imports)
	locker.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}
