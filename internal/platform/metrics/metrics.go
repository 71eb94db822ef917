package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the access request engine. All
// methods are nil-safe so the engine can run without metrics.
type Metrics struct {
	// Lifecycle transitions by audit event type and outcome
	Transitions *prometheus.CounterVec

	// Failed operations by operation and error kind
	Errors *prometheus.CounterVec

	// CheckAuthorization results
	Checks *prometheus.CounterVec

	// Committed audit events that could not be streamed
	ForwardFailures prometheus.Counter

	OperationLatency *prometheus.HistogramVec
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patient_access_transitions_total",
			Help: "Access request lifecycle transitions by event type and outcome",
		}, []string{"event", "outcome"}),

		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patient_access_errors_total",
			Help: "Failed engine operations by operation and error kind",
		}, []string{"operation", "kind"}),

		Checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patient_access_authorization_checks_total",
			Help: "Authorization checks by result",
		}, []string{"result"}),

		ForwardFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "patient_access_audit_forward_failures_total",
			Help: "Committed audit events that could not be forwarded to the audit stream",
		}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patient_access_operation_duration_seconds",
			Help:    "Duration of engine operations including lock wait and store access",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncTransition(event, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) IncError(operation, kind string) {
	if m != nil {
		m.Errors.WithLabelValues(operation, kind).Inc()
	}
}

func (m *Metrics) IncCheck(result string) {
	if m != nil {
		m.Checks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncForwardFailure() {
	if m != nil {
		m.ForwardFailures.Inc()
	}
}

func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
