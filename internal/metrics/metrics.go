package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing, so components do not need to care whether the
// metrics listener is enabled.
type Metrics struct {
	// Journey construction
	ConversionsProcessed *prometheus.CounterVec
	JourneysBuilt        prometheus.Counter
	TouchpointsAssigned  prometheus.Counter

	// Remote submission
	ChunksSubmitted *prometheus.CounterVec
	APIRetries      prometheus.Counter
	APICallDuration prometheus.Histogram

	// Persistence and reporting
	ResultsInserted prometheus.Counter
	ReportRows      prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(namespace string) *Metrics {
	return &Metrics{
		ConversionsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_processed_total",
				Help:      "Conversions processed per run outcome",
			},
			[]string{"status"},
		),
		JourneysBuilt: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journeys_built_total",
				Help:      "Non-empty journeys constructed",
			},
		),
		TouchpointsAssigned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "touchpoints_assigned_total",
				Help:      "Sessions assigned to a journey",
			},
		),
		ChunksSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_submitted_total",
				Help:      "Journey chunks submitted to the scoring service",
			},
			[]string{"status"},
		),
		APIRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Retried scoring service calls",
			},
		),
		APICallDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Scoring service call latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		ResultsInserted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_results_inserted_total",
				Help:      "Attribution rows newly inserted into the store",
			},
		),
		ReportRows: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_report_rows",
				Help:      "Channel report rows written by the last run",
			},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountOutcome records a per-conversion run outcome.
func (m *Metrics) CountOutcome(status string) {
	if m == nil {
		return
	}
	m.ConversionsProcessed.WithLabelValues(status).Inc()
}

// CountChunk records a submitted chunk by result status.
func (m *Metrics) CountChunk(status string) {
	if m == nil {
		return
	}
	m.ChunksSubmitted.WithLabelValues(status).Inc()
}

// CountRetry records a retried scoring service call.
func (m *Metrics) CountRetry() {
	if m == nil {
		return
	}
	m.APIRetries.Inc()
}

// ObserveAPICall records the latency of one scoring service call.
func (m *Metrics) ObserveAPICall(seconds float64) {
	if m == nil {
		return
	}
	m.APICallDuration.Observe(seconds)
}

// AddJourneys records built journeys and their touchpoints.
func (m *Metrics) AddJourneys(journeys, touchpoints int) {
	if m == nil {
		return
	}
	m.JourneysBuilt.Add(float64(journeys))
	m.TouchpointsAssigned.Add(float64(touchpoints))
}

// AddInserted records newly inserted attribution rows.
func (m *Metrics) AddInserted(n int64) {
	if m == nil {
		return
	}
	m.ResultsInserted.Add(float64(n))
}

// SetReportRows records the size of the written report.
func (m *Metrics) SetReportRows(n int) {
	if m == nil {
		return
	}
	m.ReportRows.Set(float64(n))
}
