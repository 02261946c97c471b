package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

// Monitor runs the two independent background sweeps over all open
// connections: the transport-level liveness ping and the application-level
// idle reaper (which also expires old buffer entries). It additionally
// exposes the on-demand memory-pressure eviction.
type Monitor struct {
	hub    *Hub
	buffer *Buffer
	clock  clockwork.Clock

	pingInterval  time.Duration
	sweepInterval time.Duration
	idleTimeout   time.Duration

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewMonitor(hub *Hub, buffer *Buffer, clock clockwork.Clock, pingInterval, sweepInterval, idleTimeout time.Duration) *Monitor {
	return &Monitor{
		hub:           hub,
		buffer:        buffer,
		clock:         clock,
		pingInterval:  pingInterval,
		sweepInterval: sweepInterval,
		idleTimeout:   idleTimeout,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start launches the background sweeps.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the sweeps and waits for the monitor goroutine to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	<-m.stopped
}

func (m *Monitor) run() {
	defer close(m.stopped)

	pingTicker := m.clock.NewTicker(m.pingInterval)
	defer pingTicker.Stop()
	sweepTicker := m.clock.NewTicker(m.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-pingTicker.Chan():
			m.pingSweep()
		case <-sweepTicker.Chan():
			m.idleSweep()
		case <-m.done:
			return
		}
	}
}

// pingSweep terminates connections that never answered the previous ping,
// then marks the rest pending and pings them. A peer's transport answers
// pings automatically, so a connection still pending at the next sweep has
// a half-open socket and is forcibly terminated.
func (m *Monitor) pingSweep() {
	terminated := 0
	for _, conn := range m.hub.OpenConnections() {
		if conn.Closed() {
			continue
		}
		if conn.livenessPending() {
			slog.Warn("Terminating unresponsive connection",
				"connection_id", conn.ID(),
				"user_id", conn.UserID(),
			)
			metrics.DeadConnectionsTerminatedTotal.Inc()
			metrics.ConnectionsClosedTotal.WithLabelValues("dead").Inc()
			conn.terminate()
			terminated++
			continue
		}
		conn.markPendingPong()
		conn.requestPing()
	}
	if terminated > 0 {
		slog.Info("Liveness sweep complete", "terminated", terminated)
	}
}

// idleSweep reclaims connections whose last application activity exceeds
// the idle threshold, independently of transport liveness, and expires old
// buffer entries. Actual disconnection may lag the nominal threshold by up
// to one sweep interval.
func (m *Monitor) idleSweep() {
	if closed := m.closeIdle(m.idleTimeout); closed > 0 {
		slog.Info("Idle sweep complete", "closed", closed)
	}
	m.buffer.Sweep()
}

// EvictIdle closes every connection idle beyond the given threshold and
// returns the count closed. Invoked externally under memory pressure, not
// on a timer.
func (m *Monitor) EvictIdle(threshold time.Duration) int {
	closed := m.closeIdle(threshold)
	if closed > 0 {
		slog.Info("Memory-pressure eviction complete", "closed", closed, "threshold", threshold)
	}
	return closed
}

func (m *Monitor) closeIdle(threshold time.Duration) int {
	closed := 0
	for _, conn := range m.hub.OpenConnections() {
		if conn.Closed() || conn.IdleFor() < threshold {
			continue
		}
		metrics.IdleDisconnectsTotal.Inc()
		metrics.ConnectionsClosedTotal.WithLabelValues("idle").Inc()
		conn.closeWithReason(websocket.CloseNormalClosure, "idle timeout")
		closed++
	}
	return closed
}
