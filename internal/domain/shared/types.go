package shared

// FeedType identifies which side of a potential match a feed carries
type FeedType string

const (
	FeedTypeScheme  FeedType = "SCHEME"
	FeedTypePayment FeedType = "PAYMENT"
)

func (f FeedType) Valid() bool {
	return f == FeedTypeScheme || f == FeedTypePayment
}

// TransactionStatus defines the matching state of a scheme or payment transaction
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusMatched TransactionStatus = "MATCHED"
)

// MatchingType records how a matched transaction was produced
type MatchingType string

const (
	MatchingTypeSpotted    MatchingType = "SPOTTED"
	MatchingTypeLoyalty    MatchingType = "LOYALTY"
	MatchingTypeNonLoyalty MatchingType = "NON_LOYALTY"
	MatchingTypeMixed      MatchingType = "MIXED"
	MatchingTypeForced     MatchingType = "FORCED"
)

// MatchedStatus defines the export state of a matched transaction.
// PENDING is the only non-terminal value.
type MatchedStatus string

const (
	MatchedStatusPending      MatchedStatus = "PENDING"
	MatchedStatusExported     MatchedStatus = "EXPORTED"
	MatchedStatusExportFailed MatchedStatus = "EXPORT_FAILED"
	MatchedStatusAbandoned    MatchedStatus = "ABANDONED"
)

// IdentifierType classifies a merchant identifier
type IdentifierType string

const (
	IdentifierTypePrimary   IdentifierType = "PRIMARY"
	IdentifierTypeSecondary IdentifierType = "SECONDARY"
	IdentifierTypePSIMI     IdentifierType = "PSIMI"
)

// ErrUnknownProvider indicates a slug that is not in the provider registry
type ErrUnknownProvider struct {
	Slug string
}

func (e ErrUnknownProvider) Error() string {
	return "unknown provider: " + e.Slug
}

func (e ErrUnknownProvider) Is(target error) bool {
	t, ok := target.(ErrUnknownProvider)
	if !ok {
		return false
	}
	return t.Slug == "" || t.Slug == e.Slug
}
