package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Process types used as the first label of every pipeline metric
const (
	ProcessImporter = "importer"
	ProcessMatcher  = "matcher"
	ProcessExporter = "exporter"
	ProcessAdminAPI = "admin_api"
)

// Metrics stores Prometheus collectors used across the pipeline.
// Counters are keyed by (process_type, transaction_type, provider_slug).
type Metrics struct {
	Events                 *prometheus.CounterVec
	Duration               *prometheus.HistogramVec
	DueExports             *prometheus.GaugeVec
	ExportTerminalFailures *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = New(namespace, prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// New builds the collectors and registers them with reg
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Pipeline events such as imported, duplicate, matched and exported.",
		}, []string{"process_type", "transaction_type", "provider_slug", "event"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_operation_duration_seconds",
			Help:      "Latency distribution for batch imports, match groups and export attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process_type", "transaction_type", "provider_slug"}),
		DueExports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_exports_due",
			Help:      "Pending exports due at the last export tick.",
		}, []string{"provider_slug"}),
		ExportTerminalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_terminal_failures_total",
			Help:      "Matched transactions that will never be exported.",
		}, []string{"provider_slug"}),
	}

	reg.MustRegister(
		m.Events,
		m.Duration,
		m.DueExports,
		m.ExportTerminalFailures,
	)
	return m
}

// Inc increments one event counter
func (m *Metrics) Inc(processType, transactionType, providerSlug, event string) {
	m.Add(processType, transactionType, providerSlug, event, 1)
}

// Add increments one event counter by n; non-positive n is ignored
func (m *Metrics) Add(processType, transactionType, providerSlug, event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Events.WithLabelValues(processType, transactionType, providerSlug, event).Add(float64(n))
}

// Observe records how long an operation took since start
func (m *Metrics) Observe(processType, transactionType, providerSlug string, start time.Time) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(processType, transactionType, providerSlug).Observe(time.Since(start).Seconds())
}

// SetDue sets the due pending export gauge for a provider
func (m *Metrics) SetDue(providerSlug string, n int) {
	if m == nil {
		return
	}
	m.DueExports.WithLabelValues(providerSlug).Set(float64(n))
}

// TerminalFailure counts a permanently failed export
func (m *Metrics) TerminalFailure(providerSlug string) {
	if m == nil {
		return
	}
	m.ExportTerminalFailures.WithLabelValues(providerSlug).Inc()
}
