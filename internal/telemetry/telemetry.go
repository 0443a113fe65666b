// Package telemetry exposes the engine's Prometheus counters and gauges:
// per-decision counts, DLQ resolution outcomes, and the live pending-prompt
// gauge, served by statectl doctor --metrics-addr.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge the engine reports.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	DLQOutcomes    *prometheus.CounterVec
	PendingPrompts prometheus.Gauge
	ClassifierMode *prometheus.CounterVec
	TickDuration   *prometheus.HistogramVec
}

// New registers and returns the engine's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "state",
			Name:      "decisions_total",
			Help:      "Observations processed by C4, labeled by resolver decision.",
		}, []string{"decision", "domain"}),
		DLQOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "state",
			Name:      "dlq_outcomes_total",
			Help:      "DLQ retry outcomes, labeled by resolution status.",
		}, []string{"status"}),
		PendingPrompts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "state",
			Name:      "pending_prompts",
			Help:      "Current count of unresolved pending confirmations.",
		}),
		ClassifierMode: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "state",
			Name:      "classifier_invocations_total",
			Help:      "Intent classifier invocations, labeled by mode and whether it fell back to rule.",
		}, []string{"mode", "fallback"}),
		TickDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "state",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one periodic task tick, labeled by task name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	return m
}

// RecordDecision increments the decisions counter for one resolver outcome.
func (m *Metrics) RecordDecision(decision, domain string) {
	m.Decisions.WithLabelValues(decision, domain).Inc()
}

// RecordDLQOutcome increments the DLQ counter for one retry resolution.
func (m *Metrics) RecordDLQOutcome(status string) {
	m.DLQOutcomes.WithLabelValues(status).Inc()
}

// SetPendingPrompts sets the live pending-prompt gauge from a store load.
func (m *Metrics) SetPendingPrompts(n int) {
	m.PendingPrompts.Set(float64(n))
}

// RecordClassifierInvocation increments the classifier counter.
func (m *Metrics) RecordClassifierInvocation(mode string, fellBack bool) {
	label := "false"
	if fellBack {
		label = "true"
	}
	m.ClassifierMode.WithLabelValues(mode, label).Inc()
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
