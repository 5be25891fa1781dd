// Package metrics exposes Prometheus instrumentation for the extraction pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the extractor collectors.
//
//   - extractor_requests_total{state} - state transitions accepted
//   - extractor_engine_calls_total{kind,outcome} - text/vision engine calls
//   - extractor_engine_call_duration_seconds{kind} - engine call latency
//   - extractor_strategy_flags_total{mode} - conflict flags per strategy mode
//   - extractor_file_errors_total - submitted files that could not be used
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	EngineCallsTotal   *prometheus.CounterVec
	EngineCallDuration *prometheus.HistogramVec
	StrategyFlagsTotal *prometheus.CounterVec
	FileErrorsTotal    prometheus.Counter
}

// New registers the collectors once with the default registry.
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractor_requests_total",
					Help: "Total number of request state transitions",
				},
				[]string{"state"},
			),
			EngineCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractor_engine_calls_total",
					Help: "Total number of model engine calls",
				},
				[]string{"kind", "outcome"}, // kind: text|vision, outcome: ok|error|schema_mismatch|schema_rejected
			),
			EngineCallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "extractor_engine_call_duration_seconds",
					Help:    "Model engine call latency in seconds",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
				},
				[]string{"kind"},
			),
			StrategyFlagsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractor_strategy_flags_total",
					Help: "Conflict flags raised by merged strategy results",
				},
				[]string{"mode"},
			),
			FileErrorsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extractor_file_errors_total",
					Help: "Submitted files that could not be fetched or normalized",
				},
			),
		}
	})
	return globalMetrics
}

// Nil-safe recorders so components can run without metrics.

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(state).Inc()
}

// Engine call outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeError          = "error"
	OutcomeSchemaMismatch = "schema_mismatch" // repaired by sanitizing
	OutcomeSchemaRejected = "schema_rejected"
)

func (m *Metrics) EngineCall(kind string, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.EngineCallsTotal.WithLabelValues(kind, outcome).Inc()
	m.EngineCallDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) Flags(mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.StrategyFlagsTotal.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) FileError() {
	if m == nil {
		return
	}
	m.FileErrorsTotal.Inc()
}
