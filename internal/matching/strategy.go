// Package matching pairs payment transactions with scheme transactions that share
// a merchant identifier, using a per-scheme chain of tie-break filters.
package matching

import (
	"sort"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
)

// Filter narrows the candidate list for one payment. Apply must not mutate its input
// and must preserve candidate order.
type Filter struct {
	Name  string
	Apply func(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction
}

// Strategy is what a loyalty scheme contributes to matching: the time tolerance of
// the first pass and the ordered tie-break chain
type Strategy struct {
	SchemeSlug       string
	Spotted          bool // No scheme feed; the payment leg alone is matched
	ToleranceSeconds int
	Filters          []Filter
	MatchingType     shared.MatchingType // LOYALTY when empty
}

// Outcome describes what happened to one payment transaction
type Outcome string

const (
	OutcomeMatched        Outcome = "matched"
	OutcomeNoCandidate    Outcome = "no_candidate"
	OutcomeAmbiguous      Outcome = "ambiguous"
	OutcomeAlreadyMatched Outcome = "already_matched"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeFailed         Outcome = "failed"
)

// Resolution is the result of running a strategy over a candidate list
type Resolution struct {
	Match     *transaction.SchemeTransaction
	Outcome   Outcome
	Remaining int    // Candidates left when the chain stopped
	StoppedAt string // Name of the last filter applied
}

func (s *Strategy) matchingType() shared.MatchingType {
	if s.MatchingType == "" {
		return shared.MatchingTypeLoyalty
	}
	return s.MatchingType
}

// Resolve applies the time filter and then the fallback chain until exactly one
// candidate remains, none remain, or the chain is exhausted
func (s *Strategy) Resolve(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) Resolution {
	remaining := sortedByID(candidates)
	remaining = WithinTolerance(payment, remaining, s.ToleranceSeconds)
	stoppedAt := "time"

	for i := 0; ; i++ {
		switch len(remaining) {
		case 0:
			return Resolution{Outcome: OutcomeNoCandidate, StoppedAt: stoppedAt}
		case 1:
			return Resolution{Match: remaining[0], Outcome: OutcomeMatched, Remaining: 1, StoppedAt: stoppedAt}
		}
		if i == len(s.Filters) {
			return Resolution{Outcome: OutcomeAmbiguous, Remaining: len(remaining), StoppedAt: stoppedAt}
		}
		remaining = s.Filters[i].Apply(payment, remaining)
		stoppedAt = s.Filters[i].Name
	}
}

// WithinTolerance keeps candidates within toleranceSeconds of the payment when the
// payment carries a time, and candidates on the same calendar date otherwise.
// Date-only values are stored as their calendar day at midnight UTC, so two bare
// dates always compare equal; a timed candidate near midnight can still miss.
func WithinTolerance(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction, toleranceSeconds int) []*transaction.SchemeTransaction {
	if !payment.HasTime {
		return keep(candidates, func(c *transaction.SchemeTransaction) bool {
			return sameDate(payment.TransactionDate, c.TransactionDate)
		})
	}
	tolerance := time.Duration(toleranceSeconds) * time.Second
	return keep(candidates, func(c *transaction.SchemeTransaction) bool {
		return absDuration(c.TransactionDate.Sub(payment.TransactionDate)) <= tolerance
	})
}

// ByAuthCode keeps candidates whose auth code equals the payment's
var ByAuthCode = Filter{
	Name: "auth_code",
	Apply: func(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction {
		if payment.AuthCode == "" {
			return candidates
		}
		return keep(candidates, func(c *transaction.SchemeTransaction) bool {
			return strings.EqualFold(c.AuthCode, payment.AuthCode)
		})
	},
}

// ByTimeTolerance narrows to candidates within seconds of a timed payment
func ByTimeTolerance(seconds int) Filter {
	return Filter{
		Name: "time_tolerance",
		Apply: func(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction {
			if !payment.HasTime {
				return candidates
			}
			return WithinTolerance(payment, candidates, seconds)
		},
	}
}

// maskedFirstSix is sent by feeds that do not disclose the BIN
const maskedFirstSix = "000000"

// ByCardFragments keeps candidates whose last four digits match and whose first six
// match or are masked on either side
var ByCardFragments = Filter{
	Name:  "card_fragments",
	Apply: byCardFragments,
}

func byCardFragments(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction {
	if payment.LastFour == "" {
		return candidates
	}
	return keep(candidates, func(c *transaction.SchemeTransaction) bool {
		if c.LastFour != payment.LastFour {
			return false
		}
		return c.FirstSix == payment.FirstSix ||
			c.FirstSix == maskedFirstSix ||
			payment.FirstSix == maskedFirstSix ||
			c.FirstSix == "" ||
			payment.FirstSix == ""
	})
}

// SchemeTokenField is the extra field scheme feeds use for the device PAN token
const SchemeTokenField = "payment_token"

// ByPaymentToken matches on the device PAN token when both sides carry one and
// falls through to card fragments otherwise
var ByPaymentToken = Filter{
	Name: "payment_token",
	Apply: func(payment *transaction.PaymentTransaction, candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction {
		if payment.CardToken == "" {
			return byCardFragments(payment, candidates)
		}
		tokened := keep(candidates, func(c *transaction.SchemeTransaction) bool {
			return schemeToken(c) != ""
		})
		if len(tokened) == 0 {
			return byCardFragments(payment, candidates)
		}
		return keep(tokened, func(c *transaction.SchemeTransaction) bool {
			return schemeToken(c) == payment.CardToken
		})
	},
}

func schemeToken(c *transaction.SchemeTransaction) string {
	v, _ := c.ExtraFields[SchemeTokenField].(string)
	return v
}

func keep(candidates []*transaction.SchemeTransaction, pred func(*transaction.SchemeTransaction) bool) []*transaction.SchemeTransaction {
	out := make([]*transaction.SchemeTransaction, 0, len(candidates))
	for _, c := range candidates {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func sortedByID(candidates []*transaction.SchemeTransaction) []*transaction.SchemeTransaction {
	out := make([]*transaction.SchemeTransaction, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
