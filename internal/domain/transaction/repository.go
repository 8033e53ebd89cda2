package transaction

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CandidateQuery describes the shared candidate lookup of the matching engine
type CandidateQuery struct {
	ProviderSlug          string
	MerchantIdentifierIDs []int64
	SpendAmount           int64
	Since                 time.Time
}

// SchemeRepository manages scheme-side transactions
type SchemeRepository interface {
	BulkCreate(ctx context.Context, txs []*SchemeTransaction) error
	GetByID(ctx context.Context, id int64) (*SchemeTransaction, error)
	GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*SchemeTransaction, error)

	// FindCandidates returns pending rows sharing a MID and amount, created since q.Since
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*SchemeTransaction, error)

	// MarkMatched flips PENDING to MATCHED and fails with ErrAlreadyMatched otherwise
	MarkMatched(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) SchemeRepository
}

// PaymentRepository manages payment-side transactions
type PaymentRepository interface {
	BulkCreate(ctx context.Context, txs []*PaymentTransaction) error
	GetByID(ctx context.Context, id int64) (*PaymentTransaction, error)
	GetByMatchGroup(ctx context.Context, matchGroup uuid.UUID) ([]*PaymentTransaction, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*PaymentTransaction, error)
	MarkMatched(ctx context.Context, id int64) error
	SetUserIdentity(ctx context.Context, id int64, userIdentityID int64) error
	WithTx(tx pgx.Tx) PaymentRepository
}

// IdentityRepository caches identities fetched from the identity service
type IdentityRepository interface {
	GetByToken(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*UserIdentity, error)

	// Upsert stores the identity, filling identity.ID with the persisted row ID
	Upsert(ctx context.Context, identity *UserIdentity) error
	WithTx(tx pgx.Tx) IdentityRepository
}

// Side names the table a transaction error refers to
type Side string

const (
	SideScheme  Side = "scheme"
	SidePayment Side = "payment"
)

// ErrTransactionNotFound indicates a missing scheme or payment transaction
type ErrTransactionNotFound struct {
	Side Side
	ID   int64
}

func (e ErrTransactionNotFound) Error() string {
	return string(e.Side) + " transaction not found: " + strconv.FormatInt(e.ID, 10)
}

// Is matches any ErrTransactionNotFound when the target has no ID
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	if t.ID == 0 {
		return true
	}
	return e.Side == t.Side && e.ID == t.ID
}

// ErrAlreadyMatched indicates the row is no longer PENDING
type ErrAlreadyMatched struct {
	Side Side
	ID   int64
}

func (e ErrAlreadyMatched) Error() string {
	return string(e.Side) + " transaction already matched: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrAlreadyMatched) Is(target error) bool {
	t, ok := target.(ErrAlreadyMatched)
	if !ok {
		return false
	}
	if t.ID == 0 {
		return true
	}
	return e.Side == t.Side && e.ID == t.ID
}

// ErrIdentityNotFound indicates no identity is cached or known for a payment token
type ErrIdentityNotFound struct {
	LoyaltySchemeSlug string
	PaymentToken      string
}

func (e ErrIdentityNotFound) Error() string {
	return "user identity not found for scheme " + e.LoyaltySchemeSlug
}

func (e ErrIdentityNotFound) Is(target error) bool {
	_, ok := target.(ErrIdentityNotFound)
	return ok
}
