package providers

import (
	"errors"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/money"
	"github.com/loyalty-reconciliation/internal/exporting"
)

var errNoLoyaltyID = errors.New("user identity has no loyalty id")

func loyaltyID(item *exporting.ExportItem) (string, error) {
	if item.Identity == nil || item.Identity.LoyaltyID == "" {
		return "", errNoLoyaltyID
	}
	return item.Identity.LoyaltyID, nil
}

func amount(item *exporting.ExportItem) string {
	return money.FormatMultiplied(item.Matched.SpendAmount, item.Matched.SpendMultiplier)
}

type bonusCardRequest struct {
	TransactionID   string `json:"transaction_id"`
	MemberNumber    string `json:"member_number"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionDate string `json:"transaction_date"`
	AuthCode        string `json:"auth_code,omitempty"`
}

func bonusCardPayload(item *exporting.ExportItem) (any, error) {
	member, err := loyaltyID(item)
	if err != nil {
		return nil, err
	}
	m := item.Matched
	return bonusCardRequest{
		TransactionID:   item.ExportID,
		MemberNumber:    member,
		Amount:          amount(item),
		Currency:        m.SpendCurrency,
		TransactionDate: m.TransactionDate.UTC().Format(time.RFC3339),
		AuthCode:        m.AuthCode,
	}, nil
}

type sushiClubRequest struct {
	CardNumber           string `json:"card_number"`
	TransactionReference string `json:"transaction_reference"`
	Spend                string `json:"spend"`
	Currency             string `json:"currency"`
	TransactionDate      string `json:"transaction_date"` // London local time
}

func sushiClubPayload(item *exporting.ExportItem) (any, error) {
	member, err := loyaltyID(item)
	if err != nil {
		return nil, err
	}
	m := item.Matched
	return sushiClubRequest{
		CardNumber:           member,
		TransactionReference: item.ExportID,
		Spend:                amount(item),
		Currency:             m.SpendCurrency,
		TransactionDate:      m.TransactionDate.In(london).Format("2006-01-02 15:04:05"),
	}, nil
}

type pubRewardsRequest struct {
	AccountID  string `json:"account_id"`
	OrderID    string `json:"order_id"`
	TotalPence int64  `json:"total_pence"`
	OccurredAt string `json:"occurred_at"`
	Source     string `json:"source"`
}

func pubRewardsPayload(item *exporting.ExportItem) (any, error) {
	member, err := loyaltyID(item)
	if err != nil {
		return nil, err
	}
	m := item.Matched
	return pubRewardsRequest{
		AccountID:  member,
		OrderID:    item.ExportID,
		TotalPence: m.SpendAmount,
		OccurredAt: m.TransactionDate.UTC().Format(time.RFC3339),
		Source:     string(m.MatchingType),
	}, nil
}

type burgerPointsRequest struct {
	MemberID      string `json:"member_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
}

func burgerPointsPayload(item *exporting.ExportItem) (any, error) {
	member, err := loyaltyID(item)
	if err != nil {
		return nil, err
	}
	return burgerPointsRequest{
		MemberID:      member,
		TransactionID: item.ExportID,
		Amount:        amount(item),
		Date:          item.Matched.TransactionDate.UTC().Format("2006-01-02"),
	}, nil
}

// genericRequest is the shape of the in-house loyalty API; members are optional
// because spotted transactions may be exported before an identity exists
type genericRequest struct {
	TransactionID   string         `json:"transaction_id"`
	ProviderSlug    string         `json:"provider_slug"`
	LoyaltyID       string         `json:"loyalty_id,omitempty"`
	PaymentToken    string         `json:"payment_token"`
	Amount          string         `json:"amount"`
	Currency        string         `json:"currency"`
	TransactionDate string         `json:"transaction_date"`
	MatchingType    string         `json:"matching_type"`
	ExtraFields     map[string]any `json:"extra_fields,omitempty"`
}

func genericPayload(item *exporting.ExportItem) (any, error) {
	m := item.Matched
	req := genericRequest{
		TransactionID:   item.ExportID,
		ProviderSlug:    m.ProviderSlug,
		PaymentToken:    m.CardToken,
		Amount:          amount(item),
		Currency:        m.SpendCurrency,
		TransactionDate: m.TransactionDate.UTC().Format(time.RFC3339),
		MatchingType:    string(m.MatchingType),
		ExtraFields:     m.ExtraFields,
	}
	if item.Identity != nil {
		req.LoyaltyID = item.Identity.LoyaltyID
	}
	return req, nil
}
