package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

// Dispatcher fans published events out to a user's live subscribed
// connections, falling back to the offline buffer when none is reachable.
type Dispatcher struct {
	registry *Registry
	buffer   *Buffer
}

func NewDispatcher(registry *Registry, buffer *Buffer) *Dispatcher {
	return &Dispatcher{registry: registry, buffer: buffer}
}

// Publish delivers an event to every live connection of userID subscribed
// to topic, or buffers it when none is reachable. It never returns an
// error: the job pipeline must not be coupled to transient connectivity
// state, so failures are absorbed and logged here.
func (d *Dispatcher) Publish(userID, topic, eventType string, payload json.RawMessage, ts time.Time) {
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()

	frame := eventFrame(eventType, ts, payload)
	if frame == nil {
		return
	}

	delivered, skippedClosed := 0, 0
	for _, conn := range d.registry.Connections(userID) {
		if conn.Closed() {
			skippedClosed++
			continue
		}
		if !conn.Subscribed(topic) {
			continue
		}
		if conn.enqueue(frame) {
			delivered++
			metrics.MessagesDeliveredTotal.Inc()
			continue
		}
		// Send buffer full: the peer has stopped reading. Evict it rather
		// than stall delivery to the user's other connections.
		metrics.DeliveryFailuresTotal.Inc()
		metrics.SlowClientsEvictedTotal.Inc()
		slog.Warn("Send buffer full, evicting slow client",
			"user_id", userID,
			"connection_id", conn.ID(),
			"topic", topic,
		)
		conn.terminate()
	}

	if delivered == 0 {
		d.buffer.Append(userID, topic, frame)
		metrics.MessagesBufferedTotal.Inc()
		slog.Debug("No reachable subscriber, message buffered",
			"user_id", userID,
			"topic", topic,
			"event_type", eventType,
			"skipped_closed", skippedClosed,
		)
	}
}

// DeliverBuffered replays matching buffered messages to conn in enqueue
// order. An empty topic replays everything for the user, which happens once
// right after authentication — before any subscription exists.
func (d *Dispatcher) DeliverBuffered(conn *Conn, topic string) int {
	userID := conn.UserID()
	if userID == "" {
		return 0
	}

	delivered := d.buffer.Drain(userID, topic, func(frame []byte) bool {
		return conn.enqueue(frame)
	})
	if delivered > 0 {
		metrics.BufferedReplayedTotal.Add(float64(delivered))
		slog.Debug("Replayed buffered messages",
			"user_id", userID,
			"connection_id", conn.ID(),
			"topic", topic,
			"count", delivered,
		)
	}
	return delivered
}
