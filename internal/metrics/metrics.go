// Package metrics exposes the prometheus collectors shared by the coordinator,
// the store and the WebSocket transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_ws_connections",
		Help: "Current number of active websocket connections",
	})
	ActiveUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_active_users",
		Help: "Users currently present in the registry",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_messages_total",
		Help: "Total number of persisted chat messages by type",
	}, []string{"type"})
	PrivateMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_private_messages_total",
		Help: "Total number of persisted private messages",
	})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_rate_limited_total",
		Help: "Actions rejected by the sliding window limiter",
	}, []string{"action"})
	HandlerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_handler_errors_total",
		Help: "Inbound events rejected by the coordinator, by error code",
	}, []string{"code"})
	PersistenceFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_persistence_failures_total",
		Help: "Durable writes that failed and left the in-memory state ahead of disk",
	})
	BroadcastEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_broadcast_evictions_total",
		Help: "Subscribers dropped because their send queue was full",
	})
	PersistDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomcast_persist_duration_seconds",
		Help:    "Time spent holding the store lock while persisting a mutation",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		ActiveUsers,
		MessagesTotal,
		PrivateMessagesTotal,
		RateLimitedTotal,
		HandlerErrorsTotal,
		PersistenceFailuresTotal,
		BroadcastEvictionsTotal,
		PersistDuration,
	)
}
