package matched

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
)

var ErrInvalidStatusTransition = errors.New("matched transaction status can only leave PENDING once")

// MatchedTransaction is the reconciliation result handed to the export stage
type MatchedTransaction struct {
	ID                   int64                `json:"id"`
	ProviderSlug         string               `json:"provider_slug"` // Loyalty scheme the export goes to
	TransactionID        string               `json:"transaction_id"`
	MerchantIdentifierID int64                `json:"merchant_identifier_id"`
	PaymentTransactionID int64                `json:"payment_transaction_id"`
	SchemeTransactionID  *int64               `json:"scheme_transaction_id,omitempty"`
	TransactionDate      time.Time            `json:"transaction_date"`
	SpendAmount          int64                `json:"spend_amount"`
	SpendMultiplier      int                  `json:"spend_multiplier"`
	SpendCurrency        string               `json:"spend_currency"`
	CardToken            string               `json:"card_token"`
	AuthCode             string               `json:"auth_code,omitempty"`
	MatchingType         shared.MatchingType  `json:"matching_type"`
	Status               shared.MatchedStatus `json:"status"`
	ExtraFields          map[string]any       `json:"extra_fields,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// New builds a matched transaction from a payment leg and an optional scheme leg.
// Extra fields from both sides are merged with scheme values winning on collision.
func New(schemeSlug string, merchantIdentifierID int64, payment *transaction.PaymentTransaction, scheme *transaction.SchemeTransaction, matchingType shared.MatchingType) *MatchedTransaction {
	now := time.Now().UTC()
	m := &MatchedTransaction{
		ProviderSlug:         schemeSlug,
		TransactionID:        payment.TransactionID,
		MerchantIdentifierID: merchantIdentifierID,
		PaymentTransactionID: payment.ID,
		TransactionDate:      payment.TransactionDate,
		SpendAmount:          payment.SpendAmount,
		SpendMultiplier:      payment.SpendMultiplier,
		SpendCurrency:        payment.SpendCurrency,
		CardToken:            payment.CardToken,
		AuthCode:             payment.AuthCode,
		MatchingType:         matchingType,
		Status:               shared.MatchedStatusPending,
		ExtraFields:          MergeExtraFields(payment.ExtraFields, nil),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if scheme != nil {
		id := scheme.ID
		m.SchemeTransactionID = &id
		m.TransactionID = scheme.TransactionID
		m.TransactionDate = scheme.TransactionDate
		if scheme.AuthCode != "" {
			m.AuthCode = scheme.AuthCode
		}
		m.ExtraFields = MergeExtraFields(payment.ExtraFields, scheme.ExtraFields)
	}

	return m
}

// MergeExtraFields copies payment fields then overlays scheme fields
func MergeExtraFields(payment, scheme map[string]any) map[string]any {
	merged := make(map[string]any, len(payment)+len(scheme))
	for k, v := range payment {
		merged[k] = v
	}
	for k, v := range scheme {
		merged[k] = v
	}
	return merged
}

// Repository manages matched transactions
type Repository interface {
	Create(ctx context.Context, m *MatchedTransaction) error
	GetByID(ctx context.Context, id int64) (*MatchedTransaction, error)

	// UpdateStatus moves a PENDING row to a terminal status exactly once
	UpdateStatus(ctx context.Context, id int64, status shared.MatchedStatus) error
	WithTx(tx pgx.Tx) Repository
}

// ErrMatchedTransactionNotFound indicates a missing matched transaction
type ErrMatchedTransactionNotFound struct {
	ID int64
}

func (e ErrMatchedTransactionNotFound) Error() string {
	return "matched transaction not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrMatchedTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrMatchedTransactionNotFound)
	if !ok {
		return false
	}
	return t.ID == 0 || t.ID == e.ID
}
