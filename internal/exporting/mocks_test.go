package exporting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	auditmsg "github.com/loyalty-reconciliation/internal/domain/audit"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/stretchr/testify/mock"
)

// memStore holds the export side tables and rolls them back on a failed transaction
type memStore struct {
	mu         sync.Mutex
	pending    map[int64]export.PendingExport
	matched    map[int64]matched.MatchedTransaction
	exports    []export.ExportTransaction
	failCreate error
	failGetDue error
}

func newMemStore() *memStore {
	return &memStore{
		pending: make(map[int64]export.PendingExport),
		matched: make(map[int64]matched.MatchedTransaction),
	}
}

func (s *memStore) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	pending := make(map[int64]export.PendingExport, len(s.pending))
	for k, v := range s.pending {
		pending[k] = v
	}
	matchedRows := make(map[int64]matched.MatchedTransaction, len(s.matched))
	for k, v := range s.matched {
		matchedRows[k] = v
	}
	exports := append([]export.ExportTransaction(nil), s.exports...)
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.pending, s.matched, s.exports = pending, matchedRows, exports
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) status(id int64) shared.MatchedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched[id].Status
}

func (s *memStore) pendingRow(id int64) (export.PendingExport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.pending[id]
	return pe, ok
}

type memPending struct{ s *memStore }

func (r memPending) Create(ctx context.Context, pe *export.PendingExport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.pending[pe.ID] = *pe
	return nil
}

func (r memPending) GetByID(ctx context.Context, id int64) (*export.PendingExport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pe, ok := r.s.pending[id]
	if !ok {
		return nil, export.ErrPendingExportNotFound{ID: id}
	}
	return &pe, nil
}

func (r memPending) GetDue(ctx context.Context, providerSlug string, now time.Time, limit int) ([]*export.PendingExport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failGetDue != nil {
		return nil, r.s.failGetDue
	}
	var out []*export.PendingExport
	for _, pe := range r.s.pending {
		if pe.ProviderSlug == providerSlug && pe.Due(now) {
			pe := pe
			out = append(out, &pe)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memPending) UpdateRetry(ctx context.Context, pe *export.PendingExport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pending[pe.ID]; !ok {
		return export.ErrPendingExportNotFound{ID: pe.ID}
	}
	r.s.pending[pe.ID] = *pe
	return nil
}

func (r memPending) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.pending, id)
	return nil
}

func (r memPending) WithTx(tx pgx.Tx) export.PendingRepository { return r }

type memMatched struct{ s *memStore }

func (r memMatched) Create(ctx context.Context, m *matched.MatchedTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.matched[m.ID] = *m
	return nil
}

func (r memMatched) GetByID(ctx context.Context, id int64) (*matched.MatchedTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matched[id]
	if !ok {
		return nil, matched.ErrMatchedTransactionNotFound{ID: id}
	}
	return &m, nil
}

func (r memMatched) UpdateStatus(ctx context.Context, id int64, status shared.MatchedStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matched[id]
	if !ok {
		return matched.ErrMatchedTransactionNotFound{ID: id}
	}
	if m.Status != shared.MatchedStatusPending {
		return matched.ErrInvalidStatusTransition
	}
	m.Status = status
	r.s.matched[id] = m
	return nil
}

func (r memMatched) WithTx(tx pgx.Tx) matched.Repository { return r }

type memExports struct{ s *memStore }

func (r memExports) Create(ctx context.Context, et *export.ExportTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreate != nil {
		return r.s.failCreate
	}
	r.s.exports = append(r.s.exports, *et)
	return nil
}

func (r memExports) WithTx(tx pgx.Tx) export.Repository { return r }

// MockPaymentRepository is a mock implementation of transaction.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) BulkCreate(ctx context.Context, txs []*transaction.PaymentTransaction) error {
	args := m.Called(ctx, txs)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id int64) (*transaction.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*transaction.PaymentTransaction, error) {
	args := m.Called(ctx, matchGroup)
	return args.Get(0).([]*transaction.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) FindCandidates(ctx context.Context, q transaction.CandidateQuery) ([]*transaction.PaymentTransaction, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]*transaction.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) MarkMatched(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPaymentRepository) SetUserIdentity(ctx context.Context, id int64, userIdentityID int64) error {
	args := m.Called(ctx, id, userIdentityID)
	return args.Error(0)
}

func (m *MockPaymentRepository) WithTx(tx pgx.Tx) transaction.PaymentRepository {
	return m
}

// MockIdentityResolver is a mock implementation of IdentityResolver
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

// scriptedAgent returns queued results in order and records what it was given
type scriptedAgent struct {
	mu      sync.Mutex
	slug    string
	policy  RetryPolicy
	results []Result
	items   []*ExportItem
}

func (a *scriptedAgent) ProviderSlug() string     { return a.slug }
func (a *scriptedAgent) RetryPolicy() RetryPolicy { return a.policy }

func (a *scriptedAgent) Export(ctx context.Context, item *ExportItem) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item)
	if len(a.results) == 0 {
		return Result{Outcome: OutcomeTerminal, Reason: "no scripted result"}
	}
	res := a.results[0]
	a.results = a.results[1:]
	return res
}

func (a *scriptedAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []auditmsg.Message
}

func (p *recordingPublisher) Publish(msg auditmsg.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) all() []auditmsg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auditmsg.Message(nil), p.messages...)
}

type staticSettings map[string]int

func (s staticSettings) GetInt(ctx context.Context, key string, def int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}

// failingHandler fails for the listed ids and records the rest
type failingHandler struct {
	mu      sync.Mutex
	fail    map[int64]bool
	handled []int64
}

func (h *failingHandler) HandlePendingExport(ctx context.Context, pe *export.PendingExport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, pe.ID)
	if h.fail[pe.ID] {
		return errors.New("provider unavailable")
	}
	return nil
}
