package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/perun-stream/perun/pkg/protocol"
)

// Metrics holds the Prometheus instruments for one relay server. A nil
// *Metrics is valid and disables collection, so the server never branches
// on whether metrics are wired.
type Metrics struct {
	clientsAccepted   prometheus.Counter
	clientsActive     prometheus.Gauge
	handshakeFailures prometheus.Counter

	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec

	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter
}

// NewMetrics creates and registers the relay metrics with the given
// registry. Pass prometheus.DefaultRegisterer for process-wide metrics,
// or a private registry in tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		clientsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "clients_accepted_total",
			Help: "Connections accepted across all transports",
		}),
		clientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "clients_active",
			Help: "Clients that completed the handshake and are connected",
		}),
		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "handshake_failures_total",
			Help: "Handshakes rejected (bad magic, short, version mismatch)",
		}),
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "packets_received_total",
			Help: "Packets framed from client connections, by packet type",
		}, []string{"type"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "packets_sent_total",
			Help: "Packets fully accepted for delivery, by packet type",
		}, []string{"type"}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "packets_dropped_total",
			Help: "Unreliable packets dropped under backpressure, by packet type",
		}, []string{"type"}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "bytes_received_total",
			Help: "Raw bytes drained from client connections",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perun", Subsystem: "relay",
			Name: "bytes_sent_total",
			Help: "Packet bytes accepted for delivery",
		}),
	}
}

func (m *Metrics) clientAccepted() {
	if m == nil {
		return
	}
	m.clientsAccepted.Inc()
}

func (m *Metrics) clientConnected() {
	if m == nil {
		return
	}
	m.clientsActive.Inc()
}

func (m *Metrics) clientDisconnected() {
	if m == nil {
		return
	}
	m.clientsActive.Dec()
}

func (m *Metrics) handshakeRejected() {
	if m == nil {
		return
	}
	m.handshakeFailures.Inc()
}

func (m *Metrics) bytesIn(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) packetReceived(typ protocol.PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(typ.String()).Inc()
}

func (m *Metrics) packetSent(typ protocol.PacketType, bytes int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(typ.String()).Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) packetDropped(typ protocol.PacketType) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(typ.String()).Inc()
}
