package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus instruments. A nil *Metrics is
// valid and makes every recording method a no-op, so components never need
// to branch on whether metrics are enabled.
type Metrics struct {
	connectionsTotal prometheus.Counter
	activeSessions   prometheus.Gauge
	messagesRouted   *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	authFailures     prometheus.Counter
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// uses the default registerer, which is what the /metrics endpoint gathers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "active_sessions",
			Help:      "Currently authenticated sessions.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_routed_total",
			Help:      "Messages routed to recipients, by kind.",
		}, []string{"kind"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "delivery_failures_total",
			Help:      "Pushes that could not be written to a client sink.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "auth_failures_total",
			Help:      "Rejected login attempts.",
		}),
	}
	reg.MustRegister(
		m.connectionsTotal,
		m.activeSessions,
		m.messagesRouted,
		m.deliveryFailures,
		m.authFailures,
	)
	return m
}

func (m *Metrics) ConnAccepted() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *Metrics) SessionAdded() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionRemoved() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) MessageRouted(kind string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) AuthFailed() {
	if m != nil {
		m.authFailures.Inc()
	}
}
