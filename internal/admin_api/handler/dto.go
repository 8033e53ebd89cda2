package handler

// ForceMatchRequest represents a request to pair two pending transactions by hand
type ForceMatchRequest struct {
	PaymentTransactionID int64 `json:"payment_transaction_id" binding:"required,gt=0"`
	SchemeTransactionID  int64 `json:"scheme_transaction_id" binding:"required,gt=0"`
}

// MatchedTransactionResponse represents a matched transaction in API responses
type MatchedTransactionResponse struct {
	ID                   int64  `json:"id"`
	ProviderSlug         string `json:"provider_slug"`
	TransactionID        string `json:"transaction_id"`
	PaymentTransactionID int64  `json:"payment_transaction_id"`
	SchemeTransactionID  *int64 `json:"scheme_transaction_id,omitempty"`
	TransactionDate      string `json:"transaction_date"`
	SpendAmount          string `json:"spend_amount"`
	SpendCurrency        string `json:"spend_currency"`
	MatchingType         string `json:"matching_type"`
	Status               string `json:"status"`
	CreatedAt            string `json:"created_at"`
}

// SetConfigRequest represents a request to change a runtime configuration value
type SetConfigRequest struct {
	Value string `json:"value" binding:"required"`
}

// ConfigItemResponse represents a configuration value in API responses
type ConfigItemResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at,omitempty"`
}
