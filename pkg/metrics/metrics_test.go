package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobStarted()
	m.JobStarted()
	m.JobFinished("ok")
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("ok")))

	m.Quote("Raydium", time.Millisecond, nil)
	m.Quote("Raydium", time.Millisecond, errors.New("down"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.QuotesTotal.WithLabelValues("Raydium", "error")))

	m.Transition("ROUTING")
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ROUTING")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobStarted()
	m.JobFinished("ok")
	m.Transition("ROUTING")
	m.Quote("x", 0, nil)
	m.SetQueueDepth(3)
	m.EventDropped("bus")
	m.ClientConnected()
	m.ClientDisconnected()
}
