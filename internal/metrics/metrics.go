// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for routing
// throughput, and a histogram for routing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of distinct users with at least
	// one live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of distinct online users",
	})

	// MessagesRouted counts routed messages, labeled by kind: "direct" or "group".
	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_routed_total",
		Help: "Total number of messages routed",
	}, []string{"kind"})

	// DeliveriesTotal counts individual frame deliveries to live connections.
	DeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "Total number of message deliveries to live connections",
	})

	// RouteDuration records end-to-end routing latency (persist + fan-out)
	// in seconds.
	RouteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_route_duration_seconds",
		Help:    "Message routing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReadReceipts counts persisted read receipts.
	ReadReceipts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_read_receipts_total",
		Help: "Total number of read receipts recorded",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesRouted,
		DeliveriesTotal,
		RouteDuration,
		ReadReceipts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
