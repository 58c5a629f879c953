package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "synclink"

// Collaboration core collectors. Methods are nil-safe so components can run
// without metrics in tests.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       *prometheus.GaugeVec
	EventsTotal       *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	SlowClients       prometheus.Counter
	RateLimited       prometheus.Counter
	HandlerPanics     prometheus.Counter
	PersistWrites     *prometheus.CounterVec
	PersistCoalesced  prometheus.Counter
	ClusterMessages   *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide collectors, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_active_connections",
				Help:      "Current number of connected sockets",
			}),
			ActiveRooms: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_rooms",
				Help:      "Current number of rooms with at least one member",
			}, []string{"family"}),
			EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_events_total",
				Help:      "Total number of socket events received",
			}, []string{"event"}),
			Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_deliveries_total",
				Help:      "Total number of frames queued to clients",
			}, []string{"scope"}),
			SlowClients: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_slow_clients_dropped_total",
				Help:      "Clients disconnected because their send buffer was full",
			}),
			RateLimited: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_rate_limited_events_total",
				Help:      "Socket events dropped by the per-connection rate limiter",
			}),
			HandlerPanics: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_handler_panics_total",
				Help:      "Socket event handlers that panicked and were recovered",
			}),
			PersistWrites: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_writes_total",
				Help:      "Document writes attempted by the persistence scheduler",
			}, []string{"result"}),
			PersistCoalesced: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_coalesced_total",
				Help:      "Saves superseded by a newer save before being written",
			}),
			ClusterMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cluster_messages_total",
				Help:      "Broadcasts exchanged with other instances",
			}, []string{"direction"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) SetActiveRooms(family string, n int) {
	if m == nil {
		return
	}
	m.ActiveRooms.WithLabelValues(family).Set(float64(n))
}

func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDeliveries(scope string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deliveries.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) RecordSlowClient() {
	if m == nil {
		return
	}
	m.SlowClients.Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

func (m *Metrics) RecordPersist(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PersistWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.PersistCoalesced.Inc()
}

func (m *Metrics) RecordCluster(direction string) {
	if m == nil {
		return
	}
	m.ClusterMessages.WithLabelValues(direction).Inc()
}
