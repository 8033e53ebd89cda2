package exporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/money"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
)

type historyEntry struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"` // Major units, e.g. "12.34"
	Date          string `json:"date"`   // YYYY-MM-DD
}

type historyResponse struct {
	Transactions []historyEntry `json:"transactions"`
}

// HTTPHistoryChecker reads a member's rewarded transactions from the provider and
// reports a hit on the export id or on the same amount and date. Dates are compared
// on the provider's calendar in location.
type HTTPHistoryChecker struct {
	client   *httpclient.Client
	baseURL  string
	headers  map[string]string
	location *time.Location
	logger   *slog.Logger
}

var _ HistoryChecker = (*HTTPHistoryChecker)(nil)

func NewHTTPHistoryChecker(client *httpclient.Client, baseURL string, headers map[string]string, location *time.Location, logger *slog.Logger) *HTTPHistoryChecker {
	return &HTTPHistoryChecker{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  headers,
		location: location,
		logger:   logger,
	}
}

func (h *HTTPHistoryChecker) AlreadyRewarded(ctx context.Context, item *ExportItem) (bool, error) {
	if item.Identity == nil {
		return false, fmt.Errorf("member identity is required for history lookup")
	}

	u := h.baseURL + "/members/" + url.PathEscape(item.Identity.LoyaltyID) + "/transactions"
	resp, err := h.client.Get(ctx, u, h.headers)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("history lookup returned status %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false, fmt.Errorf("failed to decode history response: %w", err)
	}

	date := shared.DayIn(item.Matched.TransactionDate, h.location)
	for _, e := range body.Transactions {
		if e.TransactionID != "" && (e.TransactionID == item.ExportID || e.TransactionID == item.Matched.TransactionID) {
			return true, nil
		}
		amount, err := money.ToPennies(e.Amount)
		if err != nil {
			h.logger.Warn("Ignoring history entry with bad amount", "amount", e.Amount, "error", err)
			continue
		}
		if amount == item.Matched.SpendAmount && e.Date == date {
			return true, nil
		}
	}
	return false, nil
}
