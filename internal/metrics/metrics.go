// Package metrics exposes the Prometheus instrumentation of swiftbase.
// Collectors are registered on the default registry; the HTTP shell serves
// them under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts executed query requests by action and outcome.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftbase_queries_total",
		Help: "Query requests executed, by action and status.",
	}, []string{"action", "status"})

	// QueryDuration observes end-to-end execution time per action.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swiftbase_query_duration_seconds",
		Help:    "Query execution latency by action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// ChangesCommitted counts committed mutations by event kind.
	ChangesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftbase_changes_committed_total",
		Help: "Committed document mutations, by event kind.",
	}, []string{"event"})

	// EventsDelivered counts change events handed to subscriber sessions.
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftbase_events_delivered_total",
		Help: "Change events delivered to matching subscriptions.",
	})

	// EventsDropped counts events discarded because a session's outbound
	// buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftbase_events_dropped_total",
		Help: "Change events dropped on slow subscriber connections.",
	})

	// ActiveConnections tracks live realtime connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swiftbase_realtime_connections",
		Help: "Open realtime WebSocket connections.",
	})

	// ActiveSubscriptions tracks registered subscriptions across all
	// connections.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swiftbase_realtime_subscriptions",
		Help: "Registered realtime subscriptions.",
	})
)
