package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus series exposed by a running session. Each
// is registered against the supplied Registerer rather than the global
// default, so a host embedding more than one reactor instance in a process
// does not panic on duplicate registration.
type Metrics struct {
	StepCounter           *prometheus.CounterVec
	StepDuration          *prometheus.HistogramVec
	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ErrorCounter          *prometheus.CounterVec
	SessionDuration       prometheus.Histogram
	SessionsActive        prometheus.Gauge
}

// NewMetrics registers and returns a fresh Metrics bound to reg. Pass
// prometheus.NewRegistry() in tests to avoid touching global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_steps_total",
			Help: "Total number of think/act iterations, labeled by phase and the engine state reported with the step.",
		}, []string{"phase", "state"}),

		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactor_step_duration_seconds",
			Help:    "Duration of a single think/act iteration.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"phase"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_tool_executions_total",
			Help: "Total number of tool dispatches by tool name and outcome.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactor_tool_execution_duration_seconds",
			Help:    "Duration of a single tool dispatch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_errors_total",
			Help: "Total number of CoreErrors raised, labeled by component and kind.",
		}, []string{"component", "kind"}),

		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reactor_session_duration_seconds",
			Help:    "Wall-clock duration of one Session.Run call.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_sessions_active",
			Help: "Number of sessions currently inside Run.",
		}),
	}
}

// MetricsSink adapts Metrics into an EventSink, recording step and tool
// counts as events arrive. It never replaces a host sink; compose both
// with MultiSink.
type MetricsSink struct {
	metrics *Metrics
}

// NewMetricsSink wraps metrics as an EventSink.
func NewMetricsSink(metrics *Metrics) MetricsSink {
	return MetricsSink{metrics: metrics}
}

func (s MetricsSink) Emit(event StepEvent) {
	if s.metrics == nil {
		return
	}
	s.metrics.StepCounter.WithLabelValues(event.Phase, event.StateAfter.String()).Inc()
	for _, name := range event.ToolCalls {
		s.metrics.ToolExecutionCounter.WithLabelValues(name, "dispatched").Inc()
	}
}
