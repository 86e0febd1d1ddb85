package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_connections",
		Help: "Number of currently connected collaboration clients",
	})

	metricActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_sessions",
		Help: "Number of diagram sessions with at least one connection",
	})

	metricMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_messages_received_total",
		Help: "Inbound websocket messages by type",
	}, []string{"type"})

	metricBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_broadcasts_total",
		Help: "Broadcast envelopes fanned out by type",
	}, []string{"type"})

	metricDeadConnectionsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_dead_connections_pruned_total",
		Help: "Connections evicted after a failed broadcast send",
	})

	metricRateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_rate_limit_rejections_total",
		Help: "Messages rejected by the sliding-window rate limiter, by type",
	}, []string{"type"})

	metricDebouncedSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_debounced_saves_total",
		Help: "Debounced diagram writes by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		metricActiveConnections,
		metricActiveSessions,
		metricMessagesReceived,
		metricBroadcasts,
		metricDeadConnectionsPruned,
		metricRateLimitRejections,
		metricDebouncedSaves,
	)
}
