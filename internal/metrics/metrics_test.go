package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ksred/klear-mf/internal/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveDecision("EXCHANGE", "selected")
	m.ObserveDecision("EXCHANGE", "selected")
	m.ObserveDecision("RTA", "fallback_selected")
	m.ObserveSubmission("EXCHANGE", true, 0.02)
	m.ObserveSubmission("EXCHANGE", false, 0.5)
	m.ObserveConfigReload("applied")
	m.SetConfigVersion(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoutingDecisions.WithLabelValues("EXCHANGE", "selected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingDecisions.WithLabelValues("RTA", "fallback_selected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("EXCHANGE", "failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ConfigVersion))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "klear_routing_decisions_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("EXCHANGE", "selected")
		m.ObserveNoConnector()
		m.ObserveSubmission("RTA", true, 1)
		m.ObserveValidationBlocked()
		m.ObserveConfigReload("failed")
		m.SetConfigVersion(3)
	})
}
