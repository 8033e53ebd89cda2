// Package providers is the static list of every payment provider and loyalty scheme
// the pipeline integrates with. Adding an integration means adding an entry here.
package providers

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/loyalty-reconciliation/internal/configstore"
	"github.com/loyalty-reconciliation/internal/domain/shared"
	"github.com/loyalty-reconciliation/internal/exporting"
	"github.com/loyalty-reconciliation/internal/importing"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
)

// AgentDeps carries the runtime values an export agent is built from
type AgentDeps struct {
	Client   *httpclient.Client
	BaseURL  string
	APIKey   string
	Simulate bool
	Logger   *slog.Logger
}

// Provider describes one integration
type Provider struct {
	Slug           string
	FeedTypes      []shared.FeedType
	Import         importing.ImportAdapter
	Matching       *matching.Strategy                // Nil for payment providers
	NewExportAgent func(d AgentDeps) exporting.Agent // Nil when nothing is exported
}

var london = mustLoadLocation("Europe/London")

var registry = map[string]Provider{
	"visa": {
		Slug:      "visa",
		FeedTypes: []shared.FeedType{shared.FeedTypePayment},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
	},
	"mastercard": {
		Slug:      "mastercard",
		FeedTypes: []shared.FeedType{shared.FeedTypePayment},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
	},
	"amex": {
		Slug:      "amex",
		FeedTypes: []shared.FeedType{shared.FeedTypePayment},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
	},
	"bonus-card": {
		Slug:      "bonus-card",
		FeedTypes: []shared.FeedType{shared.FeedTypeScheme},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
		Matching: &matching.Strategy{
			SchemeSlug:       "bonus-card",
			ToleranceSeconds: 60,
			Filters:          []matching.Filter{matching.ByAuthCode, matching.ByTimeTolerance(10), matching.ByCardFragments},
		},
		NewExportAgent: func(d AgentDeps) exporting.Agent {
			return exporting.NewHTTPAgent(exporting.HTTPAgentConfig{
				Slug:            "bonus-card",
				URL:             d.BaseURL + "/transactions",
				Headers:         apiKeyHeader("X-Api-Key", d.APIKey),
				Build:           bonusCardPayload,
				Classifier:      exporting.Classifier{RetryablePatterns: []string{"member not found", "points not added"}},
				Policy:          exporting.FixedDelayPolicy{Delay: 20 * time.Minute, MaxRetries: 4},
				RequireIdentity: true,
				Client:          d.Client,
				Simulate:        d.Simulate,
				Logger:          d.Logger,
			})
		},
	},
	"sushi-club": {
		Slug:      "sushi-club",
		FeedTypes: []shared.FeedType{shared.FeedTypeScheme},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP", Location: london},
		Matching: &matching.Strategy{
			SchemeSlug:       "sushi-club",
			ToleranceSeconds: 180,
			Filters:          []matching.Filter{matching.ByPaymentToken, matching.ByAuthCode},
		},
		NewExportAgent: func(d AgentDeps) exporting.Agent {
			return exporting.NewHTTPAgent(exporting.HTTPAgentConfig{
				Slug:            "sushi-club",
				URL:             d.BaseURL + "/api/v2/rewards",
				Headers:         apiKeyHeader("Authorization", bearer(d.APIKey)),
				Build:           sushiClubPayload,
				Classifier:      exporting.Classifier{RetryablePatterns: []string{"member not found"}, TerminalPatterns: []string{`"success":false`}},
				Policy:          exporting.DelayThenDailyPolicy{FirstDelay: 20 * time.Minute, Hour: 7, Location: london, MaxRetries: 7},
				RequireIdentity: true,
				Client:          d.Client,
				Simulate:        d.Simulate,
				Logger:          d.Logger,
			})
		},
	},
	"pub-rewards": {
		Slug:      "pub-rewards",
		FeedTypes: []shared.FeedType{shared.FeedTypeScheme},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP", Location: london},
		Matching: &matching.Strategy{
			SchemeSlug:       "pub-rewards",
			ToleranceSeconds: 120,
			Filters:          []matching.Filter{matching.ByAuthCode, matching.ByTimeTolerance(30)},
		},
		NewExportAgent: func(d AgentDeps) exporting.Agent {
			return exporting.NewHTTPAgent(exporting.HTTPAgentConfig{
				Slug:            "pub-rewards",
				URL:             d.BaseURL + "/orders",
				Headers:         apiKeyHeader("X-Api-Key", d.APIKey),
				Build:           pubRewardsPayload,
				Classifier:      exporting.Classifier{RetryablePatterns: []string{"points not added"}},
				Policy:          exporting.FixedDelayPolicy{Delay: 60 * time.Minute, MaxRetries: 3},
				NotBefore:       &exporting.Cutover{Hour: 10, Minute: 30, Location: london},
				RequireIdentity: true,
				Client:          d.Client,
				Simulate:        d.Simulate,
				Logger:          d.Logger,
			})
		},
	},
	"burger-points": {
		Slug:      "burger-points",
		FeedTypes: []shared.FeedType{shared.FeedTypeScheme},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
		Matching: &matching.Strategy{
			SchemeSlug:       "burger-points",
			ToleranceSeconds: 60,
			Filters:          []matching.Filter{matching.ByAuthCode, matching.ByCardFragments},
		},
		NewExportAgent: func(d AgentDeps) exporting.Agent {
			headers := apiKeyHeader("X-Api-Key", d.APIKey)
			return exporting.NewHTTPAgent(exporting.HTTPAgentConfig{
				Slug:            "burger-points",
				URL:             d.BaseURL + "/award",
				Headers:         headers,
				Build:           burgerPointsPayload,
				Classifier:      exporting.Classifier{RetryablePatterns: []string{"member not found", "points not added"}},
				Policy:          exporting.FixedDelayPolicy{Delay: 30 * time.Minute, MaxRetries: 5},
				History:         exporting.NewHTTPHistoryChecker(d.Client, d.BaseURL, headers, time.UTC, d.Logger),
				RequireIdentity: true,
				Client:          d.Client,
				Simulate:        d.Simulate,
				Logger:          d.Logger,
			})
		},
	},
	"generic-loyalty": {
		Slug:      "generic-loyalty",
		FeedTypes: []shared.FeedType{shared.FeedTypeScheme},
		Import:    importing.CanonicalAdapter{DefaultCurrency: "GBP"},
		Matching: &matching.Strategy{
			SchemeSlug:       "generic-loyalty",
			ToleranceSeconds: 60,
		},
		NewExportAgent: genericAgent("generic-loyalty"),
	},
	"coffee-stamps": {
		Slug: "coffee-stamps",
		Matching: &matching.Strategy{
			SchemeSlug:   "coffee-stamps",
			Spotted:      true,
			MatchingType: shared.MatchingTypeSpotted,
		},
		NewExportAgent: genericAgent("coffee-stamps"),
	},
}

func genericAgent(slug string) func(d AgentDeps) exporting.Agent {
	return func(d AgentDeps) exporting.Agent {
		return exporting.NewHTTPAgent(exporting.HTTPAgentConfig{
			Slug:       slug,
			URL:        d.BaseURL + "/transactions",
			Headers:    apiKeyHeader("X-Api-Key", d.APIKey),
			Build:      genericPayload,
			Classifier: exporting.Classifier{RetryablePatterns: []string{"member not found"}},
			Policy:     exporting.FixedDelayPolicy{Delay: 20 * time.Minute, MaxRetries: 4},
			Client:     d.Client,
			Simulate:   d.Simulate,
			Logger:     d.Logger,
		})
	}
}

// Get returns the provider registered under slug
func Get(slug string) (Provider, error) {
	p, ok := registry[slug]
	if !ok {
		return Provider{}, shared.ErrUnknownProvider{Slug: slug}
	}
	return p, nil
}

// All returns every provider ordered by slug
func All() []Provider {
	out := make([]Provider, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Exporters returns the providers that have an export agent, ordered by slug
func Exporters() []Provider {
	var out []Provider
	for _, p := range All() {
		if p.NewExportAgent != nil {
			out = append(out, p)
		}
	}
	return out
}

// StringSettings reads runtime provider settings
type StringSettings interface {
	GetString(ctx context.Context, key, def string) string
}

// ExportAgents builds the agent of every exporting provider. Each provider's base URL
// and API key are read from the <slug>.base_url and <slug>.api_key settings.
func ExportAgents(ctx context.Context, settings StringSettings, base AgentDeps) map[string]exporting.Agent {
	agents := make(map[string]exporting.Agent)
	for _, p := range Exporters() {
		d := base
		d.BaseURL = strings.TrimRight(settings.GetString(ctx, configstore.Key(p.Slug, "base_url"), ""), "/")
		d.APIKey = settings.GetString(ctx, configstore.Key(p.Slug, "api_key"), "")
		if d.BaseURL == "" && !d.Simulate {
			base.Logger.Warn("Export agent has no base URL configured", "provider_slug", p.Slug)
		}
		agents[p.Slug] = p.NewExportAgent(d)
	}
	return agents
}

// MatchingStrategies returns the matching strategy of every loyalty scheme keyed by slug
func MatchingStrategies() map[string]*matching.Strategy {
	out := make(map[string]*matching.Strategy)
	for slug, p := range registry {
		if p.Matching != nil {
			out[slug] = p.Matching
		}
	}
	return out
}

// ImportAdapters returns the import adapter of every provider that takes feeds
func ImportAdapters() map[string]importing.ImportAdapter {
	out := make(map[string]importing.ImportAdapter)
	for slug, p := range registry {
		if p.Import != nil {
			out[slug] = p.Import
		}
	}
	return out
}

// AcceptsFeed reports whether slug is registered for feeds of feedType
func AcceptsFeed(slug string, feedType shared.FeedType) bool {
	p, ok := registry[slug]
	if !ok {
		return false
	}
	for _, ft := range p.FeedTypes {
		if ft == feedType {
			return true
		}
	}
	return false
}

func apiKeyHeader(name, value string) map[string]string {
	if value == "" {
		return nil
	}
	return map[string]string{name: value}
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}
