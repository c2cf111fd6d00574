// Package metrics provides Prometheus metrics for the artifact agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	LLMCallsTotal      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	ParseFailuresTotal *prometheus.CounterVec
	RepairAttempts     prometheus.Counter
	ProjectsTotal      *prometheus.CounterVec
	PipelinesActive    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_llm_calls_total",
				Help: "Total number of model calls by model and outcome.",
			},
			[]string{"model", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_stage_duration_seconds",
				Help:    "Pipeline stage duration by stage.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		ParseFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_parse_failures_total",
				Help: "Total structured-output parse failures by origin and issue.",
			},
			[]string{"origin", "issue"},
		),
		RepairAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_repair_attempts_total",
				Help: "Total review and repair cycles across all pipelines.",
			},
		),
		ProjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_projects_total",
				Help: "Total finished pipelines by terminal status.",
			},
			[]string{"status"},
		),
		PipelinesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_pipelines_active",
				Help: "Number of pipelines currently executing.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.LLMCallsTotal)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.ParseFailuresTotal)
	reg.MustRegister(m.RepairAttempts)
	reg.MustRegister(m.ProjectsTotal)
	reg.MustRegister(m.PipelinesActive)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLLMCall increments the model call counter.
func (m *Metrics) RecordLLMCall(model, outcome string) {
	m.LLMCallsTotal.WithLabelValues(model, outcome).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordParseFailure increments the parse failure counter.
func (m *Metrics) RecordParseFailure(origin, issue string) {
	m.ParseFailuresTotal.WithLabelValues(origin, issue).Inc()
}

// RecordRepairAttempt increments the repair cycle counter.
func (m *Metrics) RecordRepairAttempt() {
	m.RepairAttempts.Inc()
}

// RecordProject increments the finished pipeline counter.
func (m *Metrics) RecordProject(status string) {
	m.ProjectsTotal.WithLabelValues(status).Inc()
}
