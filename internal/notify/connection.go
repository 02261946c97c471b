package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

const (
	writeDeadline  = 5 * time.Second
	pongDeadline   = 90 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 16
)

type connState int

const (
	stateAuthenticating connState = iota
	stateAuthenticated
	stateClosed
)

// livenessState is the per-connection liveness machine. The ping sweep
// transitions alive -> pendingPong; the transport pong handler transitions
// back. A connection still pendingPong at the next sweep is dead.
type livenessState int

const (
	liveAlive livenessState = iota
	livePendingPong
)

// Conn wraps a single WebSocket connection. All writes go through a
// dedicated writer goroutine fed by a bounded send channel, so a slow peer
// never blocks the caller. Subscriptions are owned exclusively by this
// connection and mutated only from its own read loop.
type Conn struct {
	id    string
	ws    *websocket.Conn
	clock clockwork.Clock

	send     chan []byte
	pings    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	state        connState
	userID       string
	liveness     livenessState
	connectedAt  time.Time
	lastActivity time.Time
	subs         map[string]struct{}
}

func newConn(ws *websocket.Conn, clock clockwork.Clock) *Conn {
	now := clock.Now()
	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		clock:        clock,
		send:         make(chan []byte, sendBufferSize),
		pings:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        stateAuthenticating,
		liveness:     liveAlive,
		connectedAt:  now,
		lastActivity: now,
		subs:         make(map[string]struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	// Socket deadlines use wall-clock time; the injected clock only drives
	// logical time (activity, expiry, sweeps).
	_ = ws.SetReadDeadline(time.Now().Add(pongDeadline))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongDeadline))
		c.markAlive()
		return nil
	})

	c.wg.Add(1)
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if !c.writeFrame(frame) {
				return
			}
		case <-c.pings:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.PingFailuresTotal.Inc()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeFrame(frame []byte) bool {
	start := time.Now()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false
	}
	metrics.MessageSendDuration.Observe(time.Since(start).Seconds())
	return true
}

// enqueue hands a frame to the writer goroutine. Returns false when the
// connection is closed or its send buffer is full.
func (c *Conn) enqueue(frame []byte) bool {
	if frame == nil || c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// requestPing asks the writer goroutine to send a transport-level ping.
func (c *Conn) requestPing() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

// closeWithReason stops the writer, flushes any frames already queued, then
// sends a close frame with the given code and reason. Safe to call multiple
// times; later calls are no-ops.
func (c *Conn) closeWithReason(code int, reason string) {
	c.stopOnce.Do(func() {
		c.setState(stateClosed)
		close(c.done)
		c.wg.Wait()

		// Flush queued frames so typed error responses reach the client
		// before the close frame.
	flush:
		for {
			select {
			case frame := <-c.send:
				if !c.writeFrame(frame) {
					break flush
				}
			default:
				break flush
			}
		}

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
		_ = c.ws.Close()
	})
}

// terminate force-closes the socket without a close frame. Used for dead
// connections that missed their pong deadline.
func (c *Conn) terminate() {
	c.stopOnce.Do(func() {
		c.setState(stateClosed)
		close(c.done)
		_ = c.ws.Close()
	})
}

// ID returns the process-unique connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the owning user, or "" before the handshake completes.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Authenticated reports whether the handshake has completed.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

// Closed reports whether the connection has been closed server-side.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

func (c *Conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) setAuthenticated(userID string) {
	c.mu.Lock()
	c.state = stateAuthenticated
	c.userID = userID
	c.mu.Unlock()
}

// ConnectedAt returns the connection establishment time, used for
// oldest-first eviction.
func (c *Conn) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// recordActivity marks application-level activity. Transport pongs do not
// count: a silent-but-responsive client must still be reclaimable as idle.
func (c *Conn) recordActivity() {
	c.mu.Lock()
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()
}

// IdleFor returns the time elapsed since the last application message.
func (c *Conn) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Since(c.lastActivity)
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	c.liveness = liveAlive
	c.mu.Unlock()
}

func (c *Conn) markPendingPong() {
	c.mu.Lock()
	c.liveness = livePendingPong
	c.mu.Unlock()
}

func (c *Conn) livenessPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveness == livePendingPong
}

// Subscribe adds a topic to the connection's subscription set. Idempotent.
func (c *Conn) Subscribe(topic string) {
	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes a topic from the subscription set. Idempotent.
func (c *Conn) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// Subscribed reports whether the connection wants messages for topic.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}
