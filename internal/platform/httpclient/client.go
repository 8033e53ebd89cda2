// Package httpclient is the outbound HTTP client shared by export agents and the
// identity resolver. It retries connection-level failures only; HTTP status codes are
// returned to the caller, which owns the business retry decision.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Response captures both sides of one call for auditing
type Response struct {
	StatusCode  int
	Body        []byte
	RequestBody []byte
	RequestedAt time.Time
	RespondedAt time.Time
}

type Client struct {
	http   *retryablehttp.Client
	logger *slog.Logger
}

func New(logger *slog.Logger, cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.CheckRetry = connectionRetryPolicy
	rc.Logger = logger.With("component", "http_client")

	return &Client{http: rc, logger: logger}
}

// connectionRetryPolicy retries transport errors and never a received response
func connectionRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
}

// PostJSON marshals payload and posts it. A transport failure is returned as an error
// together with a Response carrying the request side.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, headers, body)
}

func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, headers, nil)
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	out := &Response{RequestBody: body, RequestedAt: time.Now().UTC()}

	resp, err := c.http.Do(req)
	out.RespondedAt = time.Now().UTC()
	if err != nil {
		c.logger.Warn("HTTP request failed", "method", method, "url", url, "error", err)
		return out, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return out, fmt.Errorf("failed to read response body: %w", err)
	}
	out.Body = bytes.TrimSpace(out.Body)
	return out, nil
}
