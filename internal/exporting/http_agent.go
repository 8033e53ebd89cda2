package exporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalty-reconciliation/internal/platform/httpclient"
)

// PayloadBuilder renders the provider request body for one export
type PayloadBuilder func(item *ExportItem) (any, error)

// HistoryChecker asks the provider whether a transaction was already rewarded
type HistoryChecker interface {
	AlreadyRewarded(ctx context.Context, item *ExportItem) (bool, error)
}

type HTTPAgentConfig struct {
	Slug            string
	URL             string
	Headers         map[string]string
	Build           PayloadBuilder
	Classifier      Classifier
	Policy          RetryPolicy
	NotBefore       *Cutover
	History         HistoryChecker
	RequireIdentity bool // A missing member identity is retryable instead of reaching Build
	Client          *httpclient.Client
	Simulate        bool
	Logger          *slog.Logger
}

// HTTPAgent is the export agent shared by every JSON-over-HTTP loyalty scheme;
// providers differ only in the pieces passed to NewHTTPAgent
type HTTPAgent struct {
	cfg    HTTPAgentConfig
	logger *slog.Logger
	now    func() time.Time
}

var _ Agent = (*HTTPAgent)(nil)

func NewHTTPAgent(cfg HTTPAgentConfig) *HTTPAgent {
	return &HTTPAgent{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "export_agent", "provider_slug", cfg.Slug),
		now:    time.Now,
	}
}

func (a *HTTPAgent) ProviderSlug() string {
	return a.cfg.Slug
}

func (a *HTTPAgent) RetryPolicy() RetryPolicy {
	return a.cfg.Policy
}

func (a *HTTPAgent) Export(ctx context.Context, item *ExportItem) Result {
	res := Result{Destination: a.cfg.URL, Simulated: a.cfg.Simulate}
	now := a.now()

	// 1. The first attempt may be held back until the provider's cutover
	if a.cfg.NotBefore != nil && item.Pending.RetryCount == 0 && item.Pending.RetryAt == nil {
		if wait := a.cfg.NotBefore.Wait(now); wait > 0 {
			res.Outcome = OutcomeDeferInitial
			res.Delay = wait
			res.Reason = "held until provider cutover"
			return res
		}
	}

	if a.cfg.RequireIdentity && item.Identity == nil {
		res.Outcome = OutcomeRetryable
		res.Reason = "user identity not resolved"
		return res
	}

	// 2. Build the payload
	body, err := a.cfg.Build(item)
	if err != nil {
		res.Outcome = OutcomeTerminal
		res.Reason = fmt.Sprintf("failed to build payload: %v", err)
		return res
	}
	res.Payload, err = json.Marshal(body)
	if err != nil {
		res.Outcome = OutcomeTerminal
		res.Reason = fmt.Sprintf("failed to encode payload: %v", err)
		return res
	}

	// 3. Do not award twice what the provider already knows about
	if a.cfg.History != nil && !a.cfg.Simulate {
		rewarded, err := a.cfg.History.AlreadyRewarded(ctx, item)
		if err != nil {
			res.Outcome = OutcomeRetryable
			res.Reason = fmt.Sprintf("history lookup failed: %v", err)
			return res
		}
		if rewarded {
			res.Outcome = OutcomeAbandoned
			res.Reason = "transaction already rewarded by provider"
			return res
		}
	}

	// 4. Simulated exports stop short of the network but are still audited
	if a.cfg.Simulate {
		res.Outcome = OutcomeSuccess
		res.Audit = []AttemptRecord{{
			RequestBody:  res.Payload,
			RequestedAt:  now.UTC(),
			ResponseBody: []byte(`{"simulated":true}`),
			RespondedAt:  now.UTC(),
		}}
		return res
	}

	// 5. Deliver and classify
	resp, err := a.cfg.Client.PostJSON(ctx, a.cfg.URL, a.cfg.Headers, json.RawMessage(res.Payload))
	if resp != nil {
		res.Audit = append(res.Audit, AttemptRecord{
			RequestBody:    resp.RequestBody,
			RequestedAt:    resp.RequestedAt,
			ResponseBody:   resp.Body,
			ResponseStatus: resp.StatusCode,
			RespondedAt:    resp.RespondedAt,
		})
	}
	var status int
	var respBody []byte
	if resp != nil {
		status, respBody = resp.StatusCode, resp.Body
	}
	res.Outcome, res.Reason = a.cfg.Classifier.Classify(status, respBody, err)

	a.logger.Debug("Export attempt classified",
		"transaction_id", item.Matched.TransactionID,
		"export_id", item.ExportID,
		"status", status,
		"outcome", res.Outcome,
	)
	return res
}
