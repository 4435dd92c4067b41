package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.DecisionsTotal)
	assert.NotNil(t, m.DecisionDuration)
	assert.NotNil(t, m.RiskScore)
	assert.NotNil(t, m.OutcomesTotal)
	assert.NotNil(t, m.ExecutionDuration)
	assert.NotNil(t, m.PatternsDetected)
	assert.NotNil(t, m.ThresholdVersion)
}

func TestMetrics_RecordDecision(t *testing.T) {
	m := New()
	m.RecordDecision("cache-service", "approve_auto", 0.25)
	m.RecordDecision("cache-service", "approve_auto", 0.30)
	m.RecordDecision("billing-service", "deny", 0.05)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `medic_decisions_total{module="cache-service",outcome="approve_auto"} 2`)
	assert.Contains(t, body, `medic_decisions_total{module="billing-service",outcome="deny"} 1`)
	assert.Contains(t, body, "medic_decision_duration_seconds")
}

func TestMetrics_RecordRiskScore(t *testing.T) {
	m := New()
	m.RecordRiskScore("cache-service", 0.42)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "medic_risk_score")
}

func TestMetrics_RecordOutcome(t *testing.T) {
	m := New()
	m.RecordOutcome("cache-service", "SUCCESS")
	m.RecordOutcome("cache-service", "FAILURE")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `medic_outcomes_total{module="cache-service",outcome_type="SUCCESS"} 1`)
	assert.Contains(t, body, `medic_outcomes_total{module="cache-service",outcome_type="FAILURE"} 1`)
}

func TestMetrics_RecordExecution(t *testing.T) {
	m := New()
	m.RecordExecution("restart", 2.5)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "medic_execution_duration_seconds")
}

func TestMetrics_RecordPattern(t *testing.T) {
	m := New()
	m.RecordPattern("FALSE_POSITIVE_SPIKE", "CRITICAL")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `medic_patterns_detected_total{pattern_type="FALSE_POSITIVE_SPIKE",severity="CRITICAL"} 1`)
}

func TestMetrics_SetThresholdVersion(t *testing.T) {
	m := New()
	m.SetThresholdVersion(4)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "medic_threshold_version 4")
}

func TestMetrics_SetDispatcherInFlight(t *testing.T) {
	m := New()
	m.SetDispatcherInFlight(3)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "medic_dispatcher_in_flight 3")
}

func TestMetrics_SetBreakerGauges(t *testing.T) {
	m := New()
	m.SetEnricherBreakerOpen(true)
	m.SetExecutorBreakerOpen(false)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "medic_enricher_breaker_open 1")
	assert.Contains(t, body, "medic_executor_breaker_open 0")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	handler := m.Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
