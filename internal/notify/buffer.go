package notify

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

type bufferedMessage struct {
	topic      string
	frame      []byte
	enqueuedAt time.Time
}

// Buffer is the bounded, per-user, time-expiring store for messages
// published while no subscribed connection was reachable. Entries are held
// outside any connection's lifetime and replayed in enqueue order.
type Buffer struct {
	clock      clockwork.Clock
	maxPerUser int
	ttl        time.Duration

	mu    sync.Mutex
	users map[string][]bufferedMessage
	total int
}

// NewBuffer creates a buffer keeping at most maxPerUser entries per user,
// each eligible for delivery for ttl after enqueue.
func NewBuffer(maxPerUser int, ttl time.Duration, clock clockwork.Clock) *Buffer {
	return &Buffer{
		clock:      clock,
		maxPerUser: maxPerUser,
		ttl:        ttl,
		users:      make(map[string][]bufferedMessage),
	}
}

// Append stores a serialized frame for later delivery. Insertion beyond the
// per-user maximum drops the oldest entry first.
func (b *Buffer) Append(userID, topic string, frame []byte) {
	b.mu.Lock()
	entries := b.users[userID]
	if len(entries) >= b.maxPerUser {
		drop := len(entries) - b.maxPerUser + 1
		entries = entries[drop:]
		b.total -= drop
		metrics.BufferedOverflowTotal.Add(float64(drop))
	}
	b.users[userID] = append(entries, bufferedMessage{
		topic:      topic,
		frame:      frame,
		enqueuedAt: b.clock.Now(),
	})
	b.total++
	total := b.total
	b.mu.Unlock()

	metrics.BufferedMessagesCurrent.Set(float64(total))
}

// Drain replays the user's buffered entries in enqueue order. An entry
// matches when topic is empty or equals the entry's topic. deliver reports
// whether the entry was sent: delivered entries are removed, failed ones
// stay buffered for a future attempt. Expired entries are dropped either
// way. Returns the delivered count.
func (b *Buffer) Drain(userID, topic string, deliver func(frame []byte) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.users[userID]
	if !ok {
		return 0
	}

	cutoff := b.clock.Now().Add(-b.ttl)
	delivered, expired := 0, 0
	kept := entries[:0]

	for _, e := range entries {
		if e.enqueuedAt.Before(cutoff) {
			expired++
			continue
		}
		if topic != "" && e.topic != topic {
			kept = append(kept, e)
			continue
		}
		if deliver(e.frame) {
			delivered++
		} else {
			kept = append(kept, e)
		}
	}

	if len(kept) == 0 {
		delete(b.users, userID)
	} else {
		b.users[userID] = kept
	}
	b.total -= delivered + expired

	metrics.BufferedExpiredTotal.Add(float64(expired))
	metrics.BufferedMessagesCurrent.Set(float64(b.total))
	return delivered
}

// Sweep drops every entry older than the expiry age, whether or not it was
// ever delivered. Returns the dropped count.
func (b *Buffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.Now().Add(-b.ttl)
	dropped := 0

	for userID, entries := range b.users {
		kept := entries[:0]
		for _, e := range entries {
			if e.enqueuedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(b.users, userID)
		} else {
			b.users[userID] = kept
		}
	}
	b.total -= dropped

	metrics.BufferedExpiredTotal.Add(float64(dropped))
	metrics.BufferedMessagesCurrent.Set(float64(b.total))
	return dropped
}

// Len returns the number of buffered entries for a user.
func (b *Buffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users[userID])
}
