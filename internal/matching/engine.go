package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
)

// IdentityResolver returns a persisted identity for a payment token
type IdentityResolver interface {
	Resolve(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error)
}

// MatchResult reports the outcome for one payment transaction
type MatchResult struct {
	PaymentTransactionID int64
	SchemeTransactionID  *int64
	SchemeSlug           string
	Outcome              Outcome
	Matched              *matched.MatchedTransaction
}

type Deps struct {
	DB         persistence.TxRunner
	Schemes    transaction.SchemeRepository
	Payments   transaction.PaymentRepository
	Matched    matched.Repository
	Pending    export.PendingRepository
	Merchants  merchant.Repository
	Identities IdentityResolver
	Strategies map[string]*Strategy // Keyed by loyalty scheme slug
	Window     time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Engine struct {
	db         persistence.TxRunner
	schemes    transaction.SchemeRepository
	payments   transaction.PaymentRepository
	matched    matched.Repository
	pending    export.PendingRepository
	merchants  merchant.Repository
	identities IdentityResolver
	strategies map[string]*Strategy
	window     time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		db:         d.DB,
		schemes:    d.Schemes,
		payments:   d.Payments,
		matched:    d.Matched,
		pending:    d.Pending,
		merchants:  d.Merchants,
		identities: d.Identities,
		strategies: d.Strategies,
		window:     d.Window,
		metrics:    d.Metrics,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// Match runs the matching pass over every pending transaction imported in the
// match group. Failures on one transaction are logged and do not stop the pass;
// only loading the group itself can fail.
func (e *Engine) Match(ctx context.Context, matchGroup uuid.UUID) ([]MatchResult, error) {
	logger := e.logger.With("match_group", matchGroup.String())

	payments, err := e.payments.GetByMatchGroup(ctx, matchGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment transactions for match group: %w", err)
	}
	schemes, err := e.schemes.GetByMatchGroup(ctx, matchGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheme transactions for match group: %w", err)
	}

	var results []MatchResult
	for _, p := range payments {
		if !p.IsPending() {
			continue
		}
		results = append(results, e.matchPayment(ctx, logger, p, ""))
	}
	for _, s := range schemes {
		if !s.IsPending() {
			continue
		}
		results = append(results, e.matchScheme(ctx, logger, s)...)
	}

	logger.Info("Match group processed", "payments", len(payments), "schemes", len(schemes), "results", len(results))
	return results, nil
}

// matchPayment tries every loyalty scheme the payment's MIDs belong to, in slug
// order, until one produces a match. onlySlug restricts the pass to one scheme.
func (e *Engine) matchPayment(ctx context.Context, logger *slog.Logger, p *transaction.PaymentTransaction, onlySlug string) MatchResult {
	start := e.now()
	logger = logger.With("payment_transaction_id", p.ID, "transaction_id", p.TransactionID)
	res := MatchResult{PaymentTransactionID: p.ID, Outcome: OutcomeSkipped}

	bySlug, err := e.midsByScheme(ctx, p.MerchantIdentifierIDs)
	if err != nil {
		logger.Error("Failed to load merchant identifiers", "error", err)
		res.Outcome = OutcomeFailed
		return res
	}

	for _, slug := range sortedKeys(bySlug) {
		if onlySlug != "" && slug != onlySlug {
			continue
		}
		strategy, ok := e.strategies[slug]
		if !ok {
			logger.Warn("No matching strategy for scheme", "error", shared.ErrUnknownProvider{Slug: slug})
			continue
		}
		mids := bySlug[slug]
		res.SchemeSlug = slug

		// 1. Merchants without a scheme feed match on the payment leg alone
		if strategy.Spotted {
			spotted, _ := e.commit(ctx, logger, p, nil, slug, mids[0], shared.MatchingTypeSpotted, false)
			return spotted
		}

		// 2. Pending scheme rows sharing a MID and amount inside the window
		candidates, err := e.schemes.FindCandidates(ctx, transaction.CandidateQuery{
			ProviderSlug:          slug,
			MerchantIdentifierIDs: mids,
			SpendAmount:           p.SpendAmount,
			Since:                 e.now().Add(-e.window),
		})
		if err != nil {
			logger.Error("Failed to load scheme candidates", "loyalty_scheme_slug", slug, "error", err)
			res.Outcome = OutcomeFailed
			continue
		}

		// 3. Time filter and tie-break chain
		resolution := strategy.Resolve(p, candidates)
		e.metrics.Observe(metrics.ProcessMatcher, string(shared.FeedTypePayment), slug, start)
		if resolution.Outcome != OutcomeMatched {
			logger.Info("Payment transaction left pending",
				"loyalty_scheme_slug", slug,
				"outcome", resolution.Outcome,
				"candidates", len(candidates),
				"remaining", resolution.Remaining,
				"stopped_at", resolution.StoppedAt,
			)
			e.metrics.Inc(metrics.ProcessMatcher, string(shared.FeedTypePayment), slug, pendingEvent(resolution.Outcome))
			if res.Outcome != OutcomeAmbiguous && res.Outcome != OutcomeFailed {
				res.Outcome = resolution.Outcome
			}
			continue
		}

		// 4-5. Identity, persistence and the export work item
		mid := lowestShared(mids, resolution.Match.MerchantIdentifierIDs)
		loyalty, _ := e.commit(ctx, logger, p, resolution.Match, slug, mid, strategy.matchingType(), false)
		return loyalty
	}

	return res
}

// matchScheme looks for pending payments that could pair with a newly imported
// scheme transaction and runs the payment-side pass for each of them
func (e *Engine) matchScheme(ctx context.Context, logger *slog.Logger, s *transaction.SchemeTransaction) []MatchResult {
	logger = logger.With("scheme_transaction_id", s.ID, "loyalty_scheme_slug", s.ProviderSlug)

	strategy, ok := e.strategies[s.ProviderSlug]
	if !ok || strategy.Spotted {
		logger.Warn("Scheme transaction has no matching strategy", "error", shared.ErrUnknownProvider{Slug: s.ProviderSlug})
		return nil
	}

	payments, err := e.payments.FindCandidates(ctx, transaction.CandidateQuery{
		MerchantIdentifierIDs: s.MerchantIdentifierIDs,
		SpendAmount:           s.SpendAmount,
		Since:                 e.now().Add(-e.window),
	})
	if err != nil {
		logger.Error("Failed to load payment candidates", "error", err)
		return []MatchResult{{Outcome: OutcomeFailed, SchemeSlug: s.ProviderSlug}}
	}
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })

	var results []MatchResult
	for _, p := range payments {
		if !p.IsPending() {
			continue
		}
		r := e.matchPayment(ctx, logger, p, s.ProviderSlug)
		results = append(results, r)
		if r.SchemeTransactionID != nil && *r.SchemeTransactionID == s.ID {
			break
		}
	}
	if len(results) == 0 {
		logger.Info("Scheme transaction left pending", "outcome", OutcomeNoCandidate)
		e.metrics.Inc(metrics.ProcessMatcher, string(shared.FeedTypeScheme), s.ProviderSlug, "unmatched")
	}
	return results
}

// ForceMatch pairs two explicit transactions, skipping candidate search and the
// filter chain. Identity resolution must succeed.
func (e *Engine) ForceMatch(ctx context.Context, paymentID, schemeID int64) (*matched.MatchedTransaction, error) {
	logger := e.logger.With("payment_transaction_id", paymentID, "scheme_transaction_id", schemeID)

	// 1. Load both legs
	p, err := e.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s, err := e.schemes.GetByID(ctx, schemeID)
	if err != nil {
		return nil, err
	}
	if !p.IsPending() {
		return nil, transaction.ErrAlreadyMatched{Side: transaction.SidePayment, ID: p.ID}
	}
	if !s.IsPending() {
		return nil, transaction.ErrAlreadyMatched{Side: transaction.SideScheme, ID: s.ID}
	}

	mid := lowestShared(p.MerchantIdentifierIDs, s.MerchantIdentifierIDs)
	if mid == 0 && len(s.MerchantIdentifierIDs) > 0 {
		mid = s.MerchantIdentifierIDs[0]
	}

	// 2. Identity first; a forced match without it cannot be exported
	res, err := e.commit(ctx, logger, p, s, s.ProviderSlug, mid, shared.MatchingTypeForced, true)
	if err != nil {
		return nil, err
	}
	return res.Matched, nil
}

// commit resolves the identity, then flips both legs and creates the matched
// transaction and its pending export in one database transaction. The error is
// already logged; it is non-nil whenever the outcome is not OutcomeMatched.
func (e *Engine) commit(ctx context.Context, logger *slog.Logger, p *transaction.PaymentTransaction, s *transaction.SchemeTransaction, slug string, mid int64, matchingType shared.MatchingType, identityRequired bool) (MatchResult, error) {
	res := MatchResult{PaymentTransactionID: p.ID, SchemeSlug: slug, Outcome: OutcomeFailed}
	if s != nil {
		id := s.ID
		res.SchemeTransactionID = &id
	}

	identity, err := e.identities.Resolve(ctx, slug, p.CardToken)
	if err != nil {
		if identityRequired {
			logger.Error("Identity resolution failed for forced match", "loyalty_scheme_slug", slug, "error", err)
			redress := &RedressError{PaymentTransactionID: p.ID, Err: err}
			if s != nil {
				redress.SchemeTransactionID = s.ID
			}
			return res, redress
		}
		logger.Warn("User identity unavailable, matching without it", "loyalty_scheme_slug", slug, "error", err)
	}

	m := matched.New(slug, mid, p, s, matchingType)
	err = e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := e.payments.WithTx(tx).MarkMatched(ctx, p.ID); err != nil {
			return err
		}
		if s != nil {
			if err := e.schemes.WithTx(tx).MarkMatched(ctx, s.ID); err != nil {
				return err
			}
		}
		if err := e.matched.WithTx(tx).Create(ctx, m); err != nil {
			return err
		}
		if identity != nil {
			if err := e.payments.WithTx(tx).SetUserIdentity(ctx, p.ID, identity.ID); err != nil {
				return err
			}
		}
		return e.pending.WithTx(tx).Create(ctx, export.NewPendingExport(m.ID, slug))
	})
	if err != nil {
		if errors.Is(err, transaction.ErrAlreadyMatched{}) {
			logger.Info("Transaction matched concurrently, skipping", "error", err)
			res.Outcome = OutcomeAlreadyMatched
			return res, err
		}
		logger.Error("Failed to persist match", "loyalty_scheme_slug", slug, "error", err)
		return res, fmt.Errorf("failed to persist match: %w", err)
	}

	if identity != nil {
		p.UserIdentityID = &identity.ID
	}
	p.Status = shared.TransactionStatusMatched
	if s != nil {
		s.Status = shared.TransactionStatusMatched
	}

	logger.Info("Transaction matched",
		"matched_transaction_id", m.ID,
		"scheme_transaction_id", res.SchemeTransactionID,
		"loyalty_scheme_slug", slug,
		"matching_type", matchingType,
	)
	e.metrics.Inc(metrics.ProcessMatcher, string(matchingType), slug, "matched")
	res.Outcome = OutcomeMatched
	res.Matched = m
	return res, nil
}

func (e *Engine) midsByScheme(ctx context.Context, ids []int64) (map[string][]int64, error) {
	identifiers, err := e.merchants.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]int64)
	for _, mid := range identifiers {
		out[mid.LoyaltySchemeSlug] = append(out[mid.LoyaltySchemeSlug], mid.ID)
	}
	for slug := range out {
		sort.Slice(out[slug], func(i, j int) bool { return out[slug][i] < out[slug][j] })
	}
	return out, nil
}

func pendingEvent(o Outcome) string {
	if o == OutcomeAmbiguous {
		return "ambiguous"
	}
	return "unmatched"
}

func sortedKeys(m map[string][]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lowestShared returns the smallest ID present in both sets, or 0
func lowestShared(a, b []int64) int64 {
	var best int64
	for _, x := range a {
		for _, y := range b {
			if x == y && (best == 0 || x < best) {
				best = x
			}
		}
	}
	return best
}
