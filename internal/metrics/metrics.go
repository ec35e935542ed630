// Package metrics exposes Prometheus instruments for routing and submission.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the order routing instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RoutingDecisions  *prometheus.CounterVec   // labels: connector, outcome
	NoConnector       prometheus.Counter       // orders with no available channel
	Submissions       *prometheus.CounterVec   // labels: connector, result
	SubmitDuration    *prometheus.HistogramVec // labels: connector
	ValidationBlocked prometheus.Counter
	ConfigReloads     *prometheus.CounterVec // labels: result
	ConfigVersion     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klear_routing_decisions_total",
			Help: "Routing decisions by selected connector and outcome",
		}, []string{"connector", "outcome"}),
		NoConnector: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klear_routing_no_connector_total",
			Help: "Orders for which no connector was available",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klear_submissions_total",
			Help: "Connector submissions by result (success, failure)",
		}, []string{"connector", "result"}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klear_submit_duration_seconds",
			Help:    "Connector submission latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"connector"}),
		ValidationBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klear_validation_blocked_total",
			Help: "Orders blocked by pre-flight validation",
		}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klear_routing_config_reloads_total",
			Help: "Routing configuration reloads by result (applied, unchanged, failed)",
		}, []string{"result"}),
		ConfigVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klear_routing_config_version",
			Help: "Version of the routing configuration in use",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RoutingDecisions,
		m.NoConnector,
		m.Submissions,
		m.SubmitDuration,
		m.ValidationBlocked,
		m.ConfigReloads,
		m.ConfigVersion,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(connector, outcome string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(connector, outcome).Inc()
}

func (m *Metrics) ObserveNoConnector() {
	if m == nil {
		return
	}
	m.NoConnector.Inc()
}

func (m *Metrics) ObserveSubmission(connector string, success bool, seconds float64) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.Submissions.WithLabelValues(connector, result).Inc()
	m.SubmitDuration.WithLabelValues(connector).Observe(seconds)
}

func (m *Metrics) ObserveValidationBlocked() {
	if m == nil {
		return
	}
	m.ValidationBlocked.Inc()
}

func (m *Metrics) ObserveConfigReload(result string) {
	if m == nil {
		return
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}

// SetConfigVersion records the version of the active routing config.
func (m *Metrics) SetConfigVersion(version int64) {
	if m == nil {
		return
	}
	m.ConfigVersion.Set(float64(version))
}
