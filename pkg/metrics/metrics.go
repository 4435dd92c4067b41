// Package metrics exposes the Prometheus instrumentation for decisions,
// outcomes, and detected patterns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the agent exports.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	DecisionDuration    *prometheus.HistogramVec
	RiskScore           *prometheus.HistogramVec
	OutcomesTotal       *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	PatternsDetected    *prometheus.CounterVec
	ThresholdVersion    prometheus.Gauge
	DispatcherInFlight  prometheus.Gauge
	EnricherBreakerOpen prometheus.Gauge
	ExecutorBreakerOpen prometheus.Gauge

	registry *prometheus.Registry
}

// New builds and registers the full metric set against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_decisions_total",
				Help: "Total resurrection decisions by module and outcome.",
			},
			[]string{"module", "outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medic_decision_duration_seconds",
				Help:    "Time spent evaluating a single kill event end to end.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module"},
		),
		RiskScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medic_risk_score",
				Help:    "Computed risk score distribution by module.",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"module"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_outcomes_total",
				Help: "Recorded resurrection outcomes by module and type.",
			},
			[]string{"module", "outcome_type"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medic_execution_duration_seconds",
				Help:    "Executor resurrection call duration by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PatternsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_patterns_detected_total",
				Help: "Detected behavioral patterns by type and severity.",
			},
			[]string{"pattern_type", "severity"},
		),
		ThresholdVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medic_threshold_version",
				Help: "Current version of the adaptive threshold state.",
			},
		),
		DispatcherInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medic_dispatcher_in_flight",
				Help: "Kill events currently being processed by the dispatcher.",
			},
		),
		EnricherBreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medic_enricher_breaker_open",
				Help: "1 if the SIEM enrichment circuit breaker is open, else 0.",
			},
		),
		ExecutorBreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medic_executor_breaker_open",
				Help: "1 if the Kubernetes executor circuit breaker is open, else 0.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.RiskScore,
		m.OutcomesTotal,
		m.ExecutionDuration,
		m.PatternsDetected,
		m.ThresholdVersion,
		m.DispatcherInFlight,
		m.EnricherBreakerOpen,
		m.ExecutorBreakerOpen,
	)

	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision increments the decision counter and observes its duration.
func (m *Metrics) RecordDecision(module, outcome string, seconds float64) {
	m.DecisionsTotal.WithLabelValues(module, outcome).Inc()
	m.DecisionDuration.WithLabelValues(module).Observe(seconds)
}

// RecordRiskScore observes a single computed risk score.
func (m *Metrics) RecordRiskScore(module string, score float64) {
	m.RiskScore.WithLabelValues(module).Observe(score)
}

// RecordOutcome increments the outcome counter.
func (m *Metrics) RecordOutcome(module, outcomeType string) {
	m.OutcomesTotal.WithLabelValues(module, outcomeType).Inc()
}

// RecordExecution observes an executor call's duration.
func (m *Metrics) RecordExecution(method string, seconds float64) {
	m.ExecutionDuration.WithLabelValues(method).Observe(seconds)
}

// RecordPattern increments the detected-pattern counter.
func (m *Metrics) RecordPattern(patternType, severity string) {
	m.PatternsDetected.WithLabelValues(patternType, severity).Inc()
}

// SetThresholdVersion publishes the adaptive threshold state's version.
func (m *Metrics) SetThresholdVersion(version int) {
	m.ThresholdVersion.Set(float64(version))
}

// SetDispatcherInFlight publishes the dispatcher's current in-flight count.
func (m *Metrics) SetDispatcherInFlight(n int) {
	m.DispatcherInFlight.Set(float64(n))
}

// SetEnricherBreakerOpen publishes whether the enrichment breaker is open.
func (m *Metrics) SetEnricherBreakerOpen(open bool) {
	m.EnricherBreakerOpen.Set(boolToFloat(open))
}

// SetExecutorBreakerOpen publishes whether the executor breaker is open.
func (m *Metrics) SetExecutorBreakerOpen(open bool) {
	m.ExecutorBreakerOpen.Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
