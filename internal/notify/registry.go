package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

// Stats is a point-in-time snapshot of the registry, used for operational
// visibility.
type Stats struct {
	TotalConnections    int
	TotalUsers          int
	ConnectionsPerUser  map[string]int
	IdleConnections     int
	OldestConnectionAge time.Duration
}

// Registry tracks every live, authenticated connection indexed by owning
// user. A user key exists if and only if its connection set is non-empty.
type Registry struct {
	clock         clockwork.Clock
	maxPerUser    int
	idleThreshold time.Duration

	mu    sync.RWMutex
	users map[string]map[string]*Conn
}

// NewRegistry creates a registry enforcing maxPerUser live connections per
// user. idleThreshold only affects the idle count reported by Stats.
func NewRegistry(maxPerUser int, idleThreshold time.Duration, clock clockwork.Clock) *Registry {
	return &Registry{
		clock:         clock,
		maxPerUser:    maxPerUser,
		idleThreshold: idleThreshold,
		users:         make(map[string]map[string]*Conn),
	}
}

// Admit registers an authenticated connection under its user. When the user
// is already at the limit, the single oldest connection is closed with a
// "too many connections" reason and removed first — the limit is a sliding
// window, newest connections always win.
func (r *Registry) Admit(userID string, c *Conn) {
	var evicted *Conn

	r.mu.Lock()
	conns := r.users[userID]
	if conns == nil {
		conns = make(map[string]*Conn)
		r.users[userID] = conns
	}
	if len(conns) >= r.maxPerUser {
		for _, cand := range conns {
			if evicted == nil || cand.ConnectedAt().Before(evicted.ConnectedAt()) {
				evicted = cand
			}
		}
		delete(conns, evicted.ID())
	}
	conns[c.ID()] = c
	userCount := len(r.users)
	r.mu.Unlock()

	metrics.UsersConnected.Set(float64(userCount))

	if evicted != nil {
		slog.Info("Connection limit reached, evicting oldest",
			"user_id", userID,
			"evicted_connection_id", evicted.ID(),
			"max_per_user", r.maxPerUser,
		)
		metrics.ConnectionsClosedTotal.WithLabelValues("too_many_connections").Inc()
		evicted.closeWithReason(websocket.CloseNormalClosure, "too many connections")
	}
}

// Remove deletes a connection from the registry. The user key itself is
// deleted as soon as its connection set becomes empty.
func (r *Registry) Remove(userID string, c *Conn) {
	r.mu.Lock()
	if conns, ok := r.users[userID]; ok {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(r.users, userID)
		}
	}
	userCount := len(r.users)
	r.mu.Unlock()

	metrics.UsersConnected.Set(float64(userCount))
}

// Connections returns a snapshot of the user's live connections.
func (r *Registry) Connections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Stats computes a snapshot of the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{ConnectionsPerUser: make(map[string]int, len(r.users))}
	now := r.clock.Now()

	for userID, conns := range r.users {
		stats.ConnectionsPerUser[userID] = len(conns)
		stats.TotalConnections += len(conns)
		for _, c := range conns {
			if c.IdleFor() > r.idleThreshold {
				stats.IdleConnections++
			}
			if age := now.Sub(c.ConnectedAt()); age > stats.OldestConnectionAge {
				stats.OldestConnectionAge = age
			}
		}
	}
	stats.TotalUsers = len(r.users)
	return stats
}
