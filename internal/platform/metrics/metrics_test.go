package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncTransition("decided", "approved")
	m.IncTransition("decided", "approved")
	m.IncError("decide", "expired")
	m.IncCheck("authorized")
	m.IncForwardFailure()
	m.ObserveLatency("create", 3*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("decided", "approved")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("decide", "expired")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Checks.WithLabelValues("authorized")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ForwardFailures))
	require.Equal(t, 1, testutil.CollectAndCount(m.OperationLatency))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.IncTransition("created", "pending")
		m.IncError("create", "duplicate_pending")
		m.IncCheck("expired")
		m.IncForwardFailure()
		m.ObserveLatency("create", time.Millisecond)
	})
}
