package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sipphone"

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	callsTotal            *prometheus.CounterVec
	transitions           *prometheus.CounterVec
	unexpectedTransitions *prometheus.CounterVec
	callErrors            *prometheus.CounterVec
	registrations         *prometheus.CounterVec
	autoAnswers           prometheus.Counter
	missedCalls           prometheus.Counter
	activeCalls           prometheus.Gauge
	callDuration          prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "calls_total",
			Help:      "Calls discovered by the orchestrator",
		}, []string{"direction"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Call state transitions applied",
		}, []string{"state"}),
		unexpectedTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "unexpected_transitions_total",
			Help:      "Call state transitions outside the known state graph",
		}, []string{"from_state", "to_state"}),
		callErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "call_errors_total",
			Help:      "Failed calls by category",
		}, []string{"category"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "registration_states_total",
			Help:      "Registration state changes of the watched account",
		}, []string{"state"}),
		autoAnswers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "auto_answers_total",
			Help:      "Incoming calls answered automatically",
		}),
		missedCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "missed_calls_total",
			Help:      "Incoming calls that ended unanswered",
		}),
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active_calls",
			Help:      "Calls currently in the roster",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "call_duration_seconds",
			Help:      "Time from discovery to removal of a call",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}),
	}
}
