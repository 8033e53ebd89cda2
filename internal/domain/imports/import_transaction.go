package imports

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportTransaction is the immutable audit row written for every new record in a
// feed batch, whether or not a merchant identifier could be resolved for it
type ImportTransaction struct {
	ID            int64           `json:"id"`
	ProviderSlug  string          `json:"provider_slug"`
	TransactionID string          `json:"transaction_id"`
	Identified    bool            `json:"identified"`
	MatchGroup    uuid.UUID       `json:"match_group"`
	Source        string          `json:"source"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewImportTransaction(providerSlug, transactionID string, identified bool, matchGroup uuid.UUID, source string, data json.RawMessage) *ImportTransaction {
	return &ImportTransaction{
		ProviderSlug:  providerSlug,
		TransactionID: transactionID,
		Identified:    identified,
		MatchGroup:    matchGroup,
		Source:        source,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}
}
