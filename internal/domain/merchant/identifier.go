package merchant

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/shared"
)

// ErrMissingMID indicates a merchant-supplied identifier that is not onboarded
var ErrMissingMID = errors.New("merchant identifier not found")

// Identifier links a location identifier to a loyalty scheme and a payment provider
type Identifier struct {
	ID                  int64                 `json:"id"`
	Identifier          string                `json:"identifier"`
	Type                shared.IdentifierType `json:"identifier_type"`
	PaymentProviderSlug string                `json:"payment_provider_slug"`
	LoyaltySchemeSlug   string                `json:"loyalty_scheme_slug"`
	LocationID          string                `json:"location_id,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
}

// Lookup is one merchant-supplied identifier taken from a feed record
type Lookup struct {
	Value string
	Type  shared.IdentifierType
}

// Repository is read-only; identifiers are onboarded elsewhere
type Repository interface {
	// Resolve returns the IDs of identifiers matching the lookup for the given feed side.
	// Payment feeds resolve by payment provider, scheme feeds by loyalty scheme.
	// It returns ErrMissingMID when nothing matches.
	Resolve(ctx context.Context, feedType shared.FeedType, providerSlug string, lookup Lookup) ([]int64, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Identifier, error)
	WithTx(tx pgx.Tx) Repository
}
