// Package metrics exposes Prometheus collectors for the editing server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collab"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
	sendFailuresTotal prometheus.Counter
	publishFailures   prometheus.Counter
	activeSessions    prometheus.Gauge
	connectedClients  prometheus.Gauge
	rollupsTotal      *prometheus.CounterVec
	rollupSeconds     prometheus.Histogram
	handshakesTotal   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	return NewWithRegistry(reg), nil
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		registry: reg,
		operationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Operations processed, by type, source and result.",
		}, []string{"type", "source", "result"}),
		droppedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "dropped_operations_total",
			Help:      "Inbound messages dropped before processing.",
		}, []string{"reason"}),
		sendFailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Messages that could not be delivered to a connection.",
		}),
		publishFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "publish_failures_total",
			Help:      "Operations that could not be published to other nodes.",
		}),
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Editing sessions currently open on this node.",
		}),
		connectedClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connected_clients",
			Help:      "Live editing connections on this node.",
		}),
		rollupsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "total",
			Help:      "Rollups executed, by result.",
		}, []string{"result"}),
		rollupSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "duration_seconds",
			Help:      "Time spent rolling up pending commands.",
		}),
		handshakesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "total",
			Help:      "Token validations, by result.",
		}, []string{"result"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation counts one processed operation.
func (m *Metrics) ObserveOperation(typ, source, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(typ, source, result).Inc()
}

// Dropped counts one discarded inbound message.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// SendFailed counts one failed delivery.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailuresTotal.Inc()
}

// PublishFailed counts one failed fan-out publish.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// SessionOpened increments the open sessions gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the open sessions gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ClientConnected increments the live connections gauge.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.connectedClients.Inc()
}

// ClientDisconnected decrements the live connections gauge.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connectedClients.Dec()
}

// ObserveRollup records one rollup outcome and its duration.
func (m *Metrics) ObserveRollup(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.rollupsTotal.WithLabelValues(result).Inc()
	m.rollupSeconds.Observe(d.Seconds())
}

// ObserveHandshake counts one token validation outcome.
func (m *Metrics) ObserveHandshake(result string) {
	if m == nil {
		return
	}
	m.handshakesTotal.WithLabelValues(result).Inc()
}
