// Package metrics defines the Prometheus metrics for the notification
// fan-out subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection lifecycle metrics
var (
	// ConnectionsActive tracks currently open WebSocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	// UsersConnected tracks distinct users with at least one authenticated connection.
	UsersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_users_connected",
			Help: "Distinct users with at least one authenticated connection",
		},
	)

	// ConnectionsClosedTotal tracks server-initiated connection closures by reason.
	ConnectionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_connections_closed_total",
			Help: "Server-initiated connection closures by reason",
		},
		[]string{"reason"},
	)

	// AuthHandshakesTotal tracks authentication handshake outcomes.
	AuthHandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_auth_handshakes_total",
			Help: "Authentication handshake outcomes",
		},
		[]string{"status"},
	)

	// ConnectionsRejectedTotal tracks upgrade rejections by limit type.
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_connections_rejected_total",
			Help: "WebSocket upgrade rejections by limit",
		},
		[]string{"limit"},
	)
)

// Delivery metrics
var (
	// EventsPublishedTotal tracks publish calls by event type.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_events_published_total",
			Help: "Publish calls by event type",
		},
		[]string{"event_type"},
	)

	// MessagesDeliveredTotal tracks messages delivered to live connections.
	MessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_messages_delivered_total",
			Help: "Messages delivered to live subscribed connections",
		},
	)

	// MessagesBufferedTotal tracks messages buffered because no subscriber was reachable.
	MessagesBufferedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_messages_buffered_total",
			Help: "Messages buffered because no subscribed connection was reachable",
		},
	)

	// BufferedMessagesCurrent tracks messages currently held in the buffer.
	BufferedMessagesCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_buffered_messages_current",
			Help: "Messages currently held in the per-user buffers",
		},
	)

	// BufferedReplayedTotal tracks buffered messages replayed to reconnecting clients.
	BufferedReplayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_buffered_replayed_total",
			Help: "Buffered messages replayed after authentication or subscribe",
		},
	)

	// BufferedExpiredTotal tracks buffered messages dropped by the expiry sweep.
	BufferedExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_buffered_expired_total",
			Help: "Buffered messages dropped after exceeding their expiry age",
		},
	)

	// BufferedOverflowTotal tracks buffered messages dropped by per-user capacity.
	BufferedOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_buffered_overflow_total",
			Help: "Buffered messages dropped because the per-user buffer was full",
		},
	)

	// DeliveryFailuresTotal tracks per-connection delivery failures.
	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_delivery_failures_total",
			Help: "Per-connection delivery failures during fan-out",
		},
	)

	// SlowClientsEvictedTotal tracks clients evicted for unread send backlogs.
	SlowClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_slow_clients_evicted_total",
			Help: "Clients evicted because their send buffer stayed full",
		},
	)

	// MessageSendDuration tracks WebSocket write latency.
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_message_send_duration_seconds",
			Help:    "WebSocket message write duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Liveness metrics
var (
	// PingFailuresTotal tracks failed liveness pings.
	PingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_ping_failures_total",
			Help: "Failed transport-level liveness pings",
		},
	)

	// DeadConnectionsTerminatedTotal tracks connections terminated for missing pongs.
	DeadConnectionsTerminatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_dead_connections_terminated_total",
			Help: "Connections terminated after missing a pong deadline",
		},
	)

	// IdleDisconnectsTotal tracks connections closed for inactivity.
	IdleDisconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_idle_disconnects_total",
			Help: "Connections closed after exceeding the idle threshold",
		},
	)
)

// Session verification metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status.
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_redis_operations_total",
			Help: "Redis operations by command and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency.
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Ingest metrics
var (
	// IngestRecordsTotal tracks Kafka ingest records by outcome.
	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_ingest_records_total",
			Help: "Kafka pipeline-event records by outcome",
		},
		[]string{"status"},
	)
)
