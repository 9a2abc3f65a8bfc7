package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveOperation("command", "local", "ok")
	m.ObserveOperation("command", "local", "ok")
	m.Dropped("unknown_type")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ObserveRollup("ok", 10*time.Millisecond)
	m.ObserveHandshake("rejected")

	require.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("command", "local", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("unknown_type")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rollupsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.handshakesTotal.WithLabelValues("rejected")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveOperation("command", "local", "ok")
		m.Dropped("x")
		m.SendFailed()
		m.PublishFailed()
		m.SessionOpened()
		m.SessionClosed()
		m.ClientConnected()
		m.ClientDisconnected()
		m.ObserveRollup("ok", time.Second)
		m.ObserveHandshake("ok")
	})
	require.Nil(t, m.Registry())
}
