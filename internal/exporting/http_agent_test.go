package exporting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/export"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testClient() *httpclient.Client {
	return httpclient.New(testLogger(), httpclient.Config{
		Timeout:      time.Second,
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
}

func newItem() *ExportItem {
	m := &matched.MatchedTransaction{
		ID:              7,
		ProviderSlug:    "bonus-card",
		TransactionID:   "bk-1",
		TransactionDate: time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
		SpendAmount:     1250,
		SpendCurrency:   "GBP",
		CardToken:       "tok-1",
		MatchingType:    shared.MatchingTypeLoyalty,
		Status:          shared.MatchedStatusPending,
	}
	return &ExportItem{
		Pending:  &export.PendingExport{ID: 1, MatchedTransactionID: 7, ProviderSlug: "bonus-card"},
		Matched:  m,
		Identity: &transaction.UserIdentity{ID: 3, LoyaltyID: "L-100", LoyaltySchemeSlug: "bonus-card"},
		ExportID: ExportID(m),
	}
}

func buildPayload(item *ExportItem) (any, error) {
	payload := map[string]any{
		"transaction_id": item.ExportID,
		"amount":         item.Matched.SpendAmount,
	}
	if item.Identity != nil {
		payload["loyalty_id"] = item.Identity.LoyaltyID
	}
	return payload, nil
}

func newAgent(url string, mutate func(*HTTPAgentConfig)) *HTTPAgent {
	cfg := HTTPAgentConfig{
		Slug:       "bonus-card",
		URL:        url,
		Build:      buildPayload,
		Classifier: Classifier{RetryablePatterns: []string{"member not found"}},
		Policy:     FixedDelayPolicy{Delay: 20 * time.Minute, MaxRetries: 4},
		Client:     testClient(),
		Logger:     testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPAgent(cfg)
}

func TestExportID_Deterministic(t *testing.T) {
	a := newItem().Matched
	b := *a
	b.ID = 99
	b.TransactionDate = a.TransactionDate.In(time.FixedZone("BST", 3600))

	assert.Len(t, ExportID(a), 64)
	assert.Equal(t, ExportID(a), ExportID(&b), "zone and row id do not change the export id")

	b.TransactionID = "bk-2"
	assert.NotEqual(t, ExportID(a), ExportID(&b))
}

func TestHTTPAgent_Export(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var got map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, "L-100", got["loyalty_id"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		res := newAgent(srv.URL, nil).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, srv.URL, res.Destination)
		require.Len(t, res.Audit, 1)
		assert.Equal(t, http.StatusCreated, res.Audit[0].ResponseStatus)
		assert.JSONEq(t, string(res.Payload), string(res.Audit[0].RequestBody))
		assert.False(t, res.Simulated)
	})

	t.Run("RetryableRejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"member not found"}`))
		}))
		defer srv.Close()

		res := newAgent(srv.URL, nil).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeRetryable, res.Outcome)
		require.Len(t, res.Audit, 1)
		assert.Equal(t, http.StatusBadRequest, res.Audit[0].ResponseStatus)
	})

	t.Run("TerminalRejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		res := newAgent(srv.URL, nil).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeTerminal, res.Outcome)
	})

	t.Run("UnreachableIsRetryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		res := newAgent(url, nil).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeRetryable, res.Outcome)
	})

	t.Run("BuildFailureIsTerminal", func(t *testing.T) {
		res := newAgent("http://unused", func(c *HTTPAgentConfig) {
			c.Build = func(*ExportItem) (any, error) { return nil, errors.New("no loyalty id") }
		}).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeTerminal, res.Outcome)
		assert.Contains(t, res.Reason, "no loyalty id")
	})

	t.Run("Simulated", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		defer srv.Close()

		res := newAgent(srv.URL, func(c *HTTPAgentConfig) { c.Simulate = true }).Export(context.Background(), newItem())
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.True(t, res.Simulated)
		require.Len(t, res.Audit, 1)
		assert.NotEmpty(t, res.Audit[0].RequestBody)
		assert.Zero(t, atomic.LoadInt32(&hits))
	})
}

func TestHTTPAgent_Cutover(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agent := newAgent(srv.URL, func(c *HTTPAgentConfig) {
		c.NotBefore = &Cutover{Hour: 10, Minute: 30, Location: london}
	})
	agent.now = func() time.Time { return time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC) }

	t.Run("FirstAttemptDeferred", func(t *testing.T) {
		res := agent.Export(context.Background(), newItem())
		assert.Equal(t, OutcomeDeferInitial, res.Outcome)
		assert.Equal(t, 90*time.Minute, res.Delay)
		assert.Empty(t, res.Audit)
		assert.Zero(t, atomic.LoadInt32(&hits))
	})

	t.Run("RetriesAreNotDeferred", func(t *testing.T) {
		item := newItem()
		item.Pending.RetryCount = 1
		res := agent.Export(context.Background(), item)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("DeferredRowIsNotDeferredAgain", func(t *testing.T) {
		item := newItem()
		at := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
		item.Pending.RetryAt = &at
		res := agent.Export(context.Background(), item)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
	})
}

func TestHTTPAgent_HistoryDedupe(t *testing.T) {
	newServer := func(history string, awards *int32) *httptest.Server {
		mux := http.NewServeMux()
		mux.HandleFunc("/members/L-100/transactions", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(history))
		})
		mux.HandleFunc("/award", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(awards, 1)
			w.WriteHeader(http.StatusCreated)
		})
		return httptest.NewServer(mux)
	}

	tests := []struct {
		name    string
		history string
		outcome Outcome
		awards  int32
	}{
		{
			name:    "SameAmountAndDate",
			history: `{"transactions":[{"transaction_id":"other","amount":"12.50","date":"2024-06-03"}]}`,
			outcome: OutcomeAbandoned,
		},
		{
			name:    "SameTransactionID",
			history: `{"transactions":[{"transaction_id":"bk-1","amount":"99.00","date":"2024-01-01"}]}`,
			outcome: OutcomeAbandoned,
		},
		{
			name:    "NotRewarded",
			history: `{"transactions":[{"transaction_id":"other","amount":"12.50","date":"2024-06-02"},{"amount":"bad"}]}`,
			outcome: OutcomeSuccess,
			awards:  1,
		},
		{
			name:    "UnreadableHistory",
			history: `not json`,
			outcome: OutcomeRetryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var awards int32
			srv := newServer(tt.history, &awards)
			defer srv.Close()

			agent := newAgent(srv.URL+"/award", func(c *HTTPAgentConfig) {
				c.History = NewHTTPHistoryChecker(c.Client, srv.URL, nil, nil, testLogger())
			})
			res := agent.Export(context.Background(), newItem())
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.awards, atomic.LoadInt32(&awards))
		})
	}

	t.Run("MissingIdentityIsRetryable", func(t *testing.T) {
		var awards int32
		srv := newServer(`{"transactions":[]}`, &awards)
		defer srv.Close()

		agent := newAgent(srv.URL+"/award", func(c *HTTPAgentConfig) {
			c.History = NewHTTPHistoryChecker(c.Client, srv.URL, nil, nil, testLogger())
		})
		item := newItem()
		item.Identity = nil
		res := agent.Export(context.Background(), item)
		assert.Equal(t, OutcomeRetryable, res.Outcome)
		assert.Zero(t, atomic.LoadInt32(&awards))
	})
}

func TestHTTPAgent_RequireIdentity(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	agent := newAgent(srv.URL, func(c *HTTPAgentConfig) { c.RequireIdentity = true })
	item := newItem()
	item.Identity = nil

	res := agent.Export(context.Background(), item)
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.Equal(t, "user identity not resolved", res.Reason)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestHTTPHistoryChecker_ProviderCalendar(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[{"transaction_id":"other","amount":"12.50","date":"2024-06-03"}]}`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		date     time.Time
		location *time.Location
		rewarded bool
	}{
		{name: "StoredCalendarDate", date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), location: london, rewarded: true},
		{name: "LateEveningInLondon", date: time.Date(2024, 6, 2, 23, 30, 0, 0, time.UTC), location: london, rewarded: true},
		{name: "LateEveningInUTC", date: time.Date(2024, 6, 2, 23, 30, 0, 0, time.UTC), rewarded: false},
		{name: "PastMidnightInLondon", date: time.Date(2024, 6, 3, 23, 30, 0, 0, time.UTC), location: london, rewarded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newItem()
			item.Matched.TransactionDate = tt.date
			checker := NewHTTPHistoryChecker(testClient(), srv.URL, nil, tt.location, testLogger())

			rewarded, err := checker.AlreadyRewarded(context.Background(), item)
			require.NoError(t, err)
			assert.Equal(t, tt.rewarded, rewarded)
		})
	}
}
