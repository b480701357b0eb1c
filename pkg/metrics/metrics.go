package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconnectAttempts counts automatic reconnection attempts per stream kind.
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_reconnect_attempts_total",
			Help: "Total number of stream reconnection attempts",
		},
		[]string{"stream"},
	)

	// ActiveConnections tracks streams currently in the open state.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boardsync_active_connections",
			Help: "Number of open stream connections",
		},
		[]string{"stream"},
	)

	// FramesDecoded counts inbound frames by stream kind and event type.
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_frames_decoded_total",
			Help: "Total number of inbound frames decoded",
		},
		[]string{"stream", "type"},
	)

	// FramesDropped counts frames discarded before reaching a store (parse
	// failures, unknown event types).
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_frames_dropped_total",
			Help: "Total number of inbound frames dropped",
		},
		[]string{"stream", "reason"},
	)

	// EventsApplied counts reconciliation outcomes per store.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_events_applied_total",
			Help: "Total number of server events applied to local stores",
		},
		[]string{"store", "event"},
	)

	// RESTLatency measures gateway request latencies.
	RESTLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardsync_rest_latency_seconds",
			Help:    "Gateway REST call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)
