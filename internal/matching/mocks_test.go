package matching

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memDB keeps copies of every row and restores them when a transaction fails
type memDB struct {
	mu               sync.Mutex
	schemes          map[int64]transaction.SchemeTransaction
	payments         map[int64]transaction.PaymentTransaction
	matched          map[int64]matched.MatchedTransaction
	pending          map[int64]export.PendingExport
	nextID           int64
	candidateQueries int
	failPending      error
	descending       bool // Return candidates newest first
}

func newMemDB() *memDB {
	return &memDB{
		schemes:  make(map[int64]transaction.SchemeTransaction),
		payments: make(map[int64]transaction.PaymentTransaction),
		matched:  make(map[int64]matched.MatchedTransaction),
		pending:  make(map[int64]export.PendingExport),
		nextID:   100,
	}
}

func (db *memDB) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	db.mu.Lock()
	schemes := copyMap(db.schemes)
	payments := copyMap(db.payments)
	matchedRows := copyMap(db.matched)
	pending := copyMap(db.pending)
	db.mu.Unlock()

	if err := fn(nil); err != nil {
		db.mu.Lock()
		db.schemes, db.payments, db.matched, db.pending = schemes, payments, matchedRows, pending
		db.mu.Unlock()
		return err
	}
	return nil
}

func copyMap[V any](m map[int64]V) map[int64]V {
	out := make(map[int64]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *memDB) addScheme(tx transaction.SchemeTransaction) *transaction.SchemeTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	if tx.Status == "" {
		tx.Status = shared.TransactionStatusPending
	}
	db.schemes[tx.ID] = tx
	return &tx
}

func (db *memDB) addPayment(tx transaction.PaymentTransaction) *transaction.PaymentTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	if tx.Status == "" {
		tx.Status = shared.TransactionStatusPending
	}
	db.payments[tx.ID] = tx
	return &tx
}

func (db *memDB) scheme(id int64) transaction.SchemeTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.schemes[id]
}

func (db *memDB) payment(id int64) transaction.PaymentTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.payments[id]
}

func (db *memDB) pendingExports() []export.PendingExport {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []export.PendingExport
	for _, pe := range db.pending {
		out = append(out, pe)
	}
	return out
}

type memSchemes struct{ db *memDB }

func (r memSchemes) BulkCreate(ctx context.Context, txs []*transaction.SchemeTransaction) error {
	for _, tx := range txs {
		r.db.addScheme(*tx)
	}
	return nil
}

func (r memSchemes) GetByID(ctx context.Context, id int64) (*transaction.SchemeTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.schemes[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound{Side: transaction.SideScheme, ID: id}
	}
	return &tx, nil
}

func (r memSchemes) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.SchemeTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*transaction.SchemeTransaction
	for _, tx := range r.db.schemes {
		if tx.MatchGroup == matchGroup {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memSchemes) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.SchemeTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.candidateQueries++
	var out []*transaction.SchemeTransaction
	for _, tx := range r.db.schemes {
		if tx.ProviderSlug != q.ProviderSlug || !tx.IsPending() || tx.SpendAmount != q.SpendAmount {
			continue
		}
		if !tx.SharesMerchant(q.MerchantIdentifierIDs) || tx.CreatedAt.Before(q.Since) {
			continue
		}
		tx := tx
		out = append(out, &tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if r.db.descending {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memSchemes) MarkMatched(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.schemes[id]
	if !ok || !tx.IsPending() {
		return transaction.ErrAlreadyMatched{Side: transaction.SideScheme, ID: id}
	}
	tx.Status = shared.TransactionStatusMatched
	r.db.schemes[id] = tx
	return nil
}

func (r memSchemes) WithTx(tx pgx.Tx) transaction.SchemeRepository { return r }

type memPayments struct{ db *memDB }

func (r memPayments) BulkCreate(ctx context.Context, txs []*transaction.PaymentTransaction) error {
	for _, tx := range txs {
		r.db.addPayment(*tx)
	}
	return nil
}

func (r memPayments) GetByID(ctx context.Context, id int64) (*transaction.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.payments[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound{Side: transaction.SidePayment, ID: id}
	}
	return &tx, nil
}

func (r memPayments) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*transaction.PaymentTransaction
	for _, tx := range r.db.payments {
		if tx.MatchGroup == matchGroup {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memPayments) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*transaction.PaymentTransaction
	for _, tx := range r.db.payments {
		if !tx.IsPending() || tx.SpendAmount != q.SpendAmount || !tx.SharesMerchant(q.MerchantIdentifierIDs) || tx.CreatedAt.Before(q.Since) {
			continue
		}
		tx := tx
		out = append(out, &tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memPayments) MarkMatched(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.payments[id]
	if !ok || !tx.IsPending() {
		return transaction.ErrAlreadyMatched{Side: transaction.SidePayment, ID: id}
	}
	tx.Status = shared.TransactionStatusMatched
	r.db.payments[id] = tx
	return nil
}

func (r memPayments) SetUserIdentity(ctx context.Context, id int64, userIdentityID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx := r.db.payments[id]
	tx.UserIdentityID = &userIdentityID
	r.db.payments[id] = tx
	return nil
}

func (r memPayments) WithTx(tx pgx.Tx) transaction.PaymentRepository { return r }

type memMatched struct{ db *memDB }

func (r memMatched) Create(ctx context.Context, m *matched.MatchedTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nextID++
	m.ID = r.db.nextID
	r.db.matched[m.ID] = *m
	return nil
}

func (r memMatched) GetByID(ctx context.Context, id int64) (*matched.MatchedTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.matched[id]
	if !ok {
		return nil, matched.ErrMatchedTransactionNotFound{ID: id}
	}
	return &m, nil
}

func (r memMatched) UpdateStatus(ctx context.Context, id int64, status shared.MatchedStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m := r.db.matched[id]
	m.Status = status
	r.db.matched[id] = m
	return nil
}

func (r memMatched) WithTx(tx pgx.Tx) matched.Repository { return r }

type memPending struct{ db *memDB }

func (r memPending) Create(ctx context.Context, pe *export.PendingExport) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failPending != nil {
		return r.db.failPending
	}
	r.db.nextID++
	pe.ID = r.db.nextID
	r.db.pending[pe.ID] = *pe
	return nil
}

func (r memPending) GetByID(ctx context.Context, id int64) (*export.PendingExport, error) {
	return nil, export.ErrPendingExportNotFound{ID: id}
}

func (r memPending) GetDue(ctx context.Context, providerSlug string, now time.Time, limit int) ([]*export.PendingExport, error) {
	return nil, nil
}

func (r memPending) UpdateRetry(ctx context.Context, pe *export.PendingExport) error { return nil }

func (r memPending) Delete(ctx context.Context, id int64) error { return nil }

func (r memPending) WithTx(tx pgx.Tx) export.PendingRepository { return r }

type memMerchants map[int64]*merchant.Identifier

func (r memMerchants) Resolve(ctx context.Context, feedType shared.FeedType, providerSlug string, lookup merchant.Lookup) ([]int64, error) {
	return nil, merchant.ErrMissingMID
}

func (r memMerchants) GetByIDs(ctx context.Context, ids []int64) ([]*merchant.Identifier, error) {
	var out []*merchant.Identifier
	for _, id := range ids {
		if mid, ok := r[id]; ok {
			out = append(out, mid)
		}
	}
	return out, nil
}

func (r memMerchants) WithTx(tx pgx.Tx) merchant.Repository { return r }

type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error) {
	args := m.Called(ctx, loyaltySchemeSlug, paymentToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.UserIdentity), args.Error(1)
}
