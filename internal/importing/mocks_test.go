package importing

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/imports"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// runTx runs fn without a real transaction; repositories ignore the nil tx
type runTx struct{}

func (runTx) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type MockMerchantRepository struct {
	mock.Mock
}

func (m *MockMerchantRepository) Resolve(ctx context.Context, feedType shared.FeedType, providerSlug string, lookup merchant.Lookup) ([]int64, error) {
	args := m.Called(ctx, feedType, providerSlug, lookup)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockMerchantRepository) GetByIDs(ctx context.Context, ids []int64) ([]*merchant.Identifier, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*merchant.Identifier), args.Error(1)
}

func (m *MockMerchantRepository) WithTx(tx pgx.Tx) merchant.Repository {
	return m
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Handle, bool, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*lock.Handle), args.Bool(1), args.Error(2)
}

func (m *MockLocker) Release(ctx context.Context, h *lock.Handle) error {
	return m.Called(ctx, h).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

// memStore is an in-memory transaction store with the same unique keys as Postgres
type memStore struct {
	mu       sync.Mutex
	imports  map[string]*imports.ImportTransaction
	schemes  map[string]*transaction.SchemeTransaction
	payments map[string]*transaction.PaymentTransaction
	failBulk error
}

func newMemStore() *memStore {
	return &memStore{
		imports:  make(map[string]*imports.ImportTransaction),
		schemes:  make(map[string]*transaction.SchemeTransaction),
		payments: make(map[string]*transaction.PaymentTransaction),
	}
}

func memKey(slug, txID string) string { return slug + ":" + txID }

type memImports struct{ s *memStore }

func (r memImports) ExistingIDs(ctx context.Context, providerSlug string, ids []string) (map[string]struct{}, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := r.s.imports[memKey(providerSlug, id)]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (r memImports) BulkCreate(ctx context.Context, rows []*imports.ImportTransaction) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failBulk != nil {
		return 0, r.s.failBulk
	}
	var n int64
	for _, row := range rows {
		k := memKey(row.ProviderSlug, row.TransactionID)
		if _, ok := r.s.imports[k]; ok {
			continue
		}
		r.s.imports[k] = row
		n++
	}
	return n, nil
}

func (r memImports) WithTx(tx pgx.Tx) imports.Repository { return r }

type memSchemes struct{ s *memStore }

func (r memSchemes) BulkCreate(ctx context.Context, txs []*transaction.SchemeTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tx := range txs {
		k := memKey(tx.ProviderSlug, tx.TransactionID)
		if _, ok := r.s.schemes[k]; !ok {
			r.s.schemes[k] = tx
		}
	}
	return nil
}

func (r memSchemes) GetByID(ctx context.Context, id int64) (*transaction.SchemeTransaction, error) {
	return nil, transaction.ErrTransactionNotFound{Side: transaction.SideScheme, ID: id}
}

func (r memSchemes) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.SchemeTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*transaction.SchemeTransaction
	for _, tx := range r.s.schemes {
		if tx.MatchGroup == matchGroup {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

func (r memSchemes) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.SchemeTransaction, error) {
	return nil, nil
}

func (r memSchemes) MarkMatched(ctx context.Context, id int64) error { return nil }

func (r memSchemes) WithTx(tx pgx.Tx) transaction.SchemeRepository { return r }

type memPayments struct{ s *memStore }

func (r memPayments) BulkCreate(ctx context.Context, txs []*transaction.PaymentTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tx := range txs {
		k := memKey(tx.ProviderSlug, tx.TransactionID)
		if _, ok := r.s.payments[k]; !ok {
			r.s.payments[k] = tx
		}
	}
	return nil
}

func (r memPayments) GetByID(ctx context.Context, id int64) (*transaction.PaymentTransaction, error) {
	return nil, transaction.ErrTransactionNotFound{Side: transaction.SidePayment, ID: id}
}

func (r memPayments) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.PaymentTransaction, error) {
	return nil, nil
}

func (r memPayments) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.PaymentTransaction, error) {
	return nil, nil
}

func (r memPayments) MarkMatched(ctx context.Context, id int64) error { return nil }

func (r memPayments) SetUserIdentity(ctx context.Context, id int64, userIdentityID int64) error {
	return nil
}

func (r memPayments) WithTx(tx pgx.Tx) transaction.PaymentRepository { return r }
