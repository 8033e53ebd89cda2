package exporting

import (
	"bytes"
	"fmt"
	"net/http"
)

// Classifier maps a provider response to an outcome. Transport errors and 5xx are
// retryable; 4xx is terminal unless the body carries a known retryable message.
type Classifier struct {
	RetryablePatterns []string // Matched case-insensitively against the body
	TerminalPatterns  []string // Turn a 2xx body into a rejection
}

func (c Classifier) Classify(status int, body []byte, err error) (Outcome, string) {
	if err != nil {
		return OutcomeRetryable, err.Error()
	}

	switch {
	case status >= http.StatusInternalServerError:
		return OutcomeRetryable, fmt.Sprintf("provider returned %d", status)
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		if p, ok := matchAny(body, c.RetryablePatterns); ok {
			return OutcomeRetryable, p
		}
		if p, ok := matchAny(body, c.TerminalPatterns); ok {
			return OutcomeTerminal, p
		}
		return OutcomeSuccess, ""
	case status >= http.StatusBadRequest:
		if p, ok := matchAny(body, c.RetryablePatterns); ok {
			return OutcomeRetryable, p
		}
		return OutcomeTerminal, fmt.Sprintf("provider rejected export with %d", status)
	default:
		return OutcomeTerminal, fmt.Sprintf("unexpected provider status %d", status)
	}
}

func matchAny(body []byte, patterns []string) (string, bool) {
	lower := bytes.ToLower(body)
	for _, p := range patterns {
		if bytes.Contains(lower, bytes.ToLower([]byte(p))) {
			return p, true
		}
	}
	return "", false
}
