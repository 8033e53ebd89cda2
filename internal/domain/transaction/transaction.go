package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/domain/shared"
)

// Base holds the fields shared by both sides of a potential match
type Base struct {
	ID                    int64                    `json:"id"`
	ProviderSlug          string                   `json:"provider_slug"`
	TransactionID         string                   `json:"transaction_id"`
	MerchantIdentifierIDs []int64                  `json:"merchant_identifier_ids"`
	TransactionDate       time.Time                `json:"transaction_date"`
	HasTime               bool                     `json:"has_time"`
	SpendAmount           int64                    `json:"spend_amount"` // Minor units, already scaled by SpendMultiplier
	SpendMultiplier       int                      `json:"spend_multiplier"`
	SpendCurrency         string                   `json:"spend_currency"`
	AuthCode              string                   `json:"auth_code,omitempty"`
	FirstSix              string                   `json:"first_six,omitempty"`
	LastFour              string                   `json:"last_four,omitempty"`
	Status                shared.TransactionStatus `json:"status"`
	MatchGroup            uuid.UUID                `json:"match_group"`
	ExtraFields           map[string]any           `json:"extra_fields,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

func (b *Base) IsPending() bool {
	return b.Status == shared.TransactionStatusPending
}

// SharesMerchant reports whether the two MID sets overlap
func (b *Base) SharesMerchant(ids []int64) bool {
	for _, a := range b.MerchantIdentifierIDs {
		for _, c := range ids {
			if a == c {
				return true
			}
		}
	}
	return false
}

// SchemeTransaction is a record from a merchant loyalty-scheme feed
type SchemeTransaction struct {
	Base
}

// PaymentTransaction is a record from a payment-network feed
type PaymentTransaction struct {
	Base
	CardToken      string `json:"card_token"`
	SettlementKey  string `json:"settlement_key,omitempty"`
	UserIdentityID *int64 `json:"user_identity_id,omitempty"`
}

// UserIdentity maps a payment token to a loyalty account for one scheme
type UserIdentity struct {
	ID                int64             `json:"id"`
	LoyaltySchemeSlug string            `json:"loyalty_scheme_slug"`
	PaymentToken      string            `json:"payment_token"`
	LoyaltyID         string            `json:"loyalty_id"`
	SchemeAccountID   int64             `json:"scheme_account_id"`
	UserID            int64             `json:"user_id"`
	Credentials       map[string]string `json:"credentials,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
