package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
)

// verifyTimeout bounds the session-verification call during the handshake.
const verifyTimeout = 5 * time.Second

// Hub owns the per-connection protocol: the authentication handshake, the
// message dispatch loop, and shutdown. It tracks every open connection —
// including those still authenticating — so the liveness monitor can reach
// them before they are registry-visible.
type Hub struct {
	registry    *Registry
	dispatcher  *Dispatcher
	verifier    SessionVerifier
	clock       clockwork.Clock
	authTimeout time.Duration

	mu     sync.Mutex
	open   map[string]*Conn
	closed bool
}

func NewHub(registry *Registry, dispatcher *Dispatcher, verifier SessionVerifier, authTimeout time.Duration, clock clockwork.Clock) *Hub {
	return &Hub{
		registry:    registry,
		dispatcher:  dispatcher,
		verifier:    verifier,
		clock:       clock,
		authTimeout: authTimeout,
		open:        make(map[string]*Conn),
	}
}

// HandleConnection runs the protocol for an upgraded WebSocket connection
// and blocks until it closes. The connection is not visible to the
// dispatcher until the handshake completes.
func (h *Hub) HandleConnection(ctx context.Context, ws *websocket.Conn) {
	conn := newConn(ws, h.clock)

	if !h.track(conn) {
		conn.closeWithReason(websocket.CloseNormalClosure, "server shutting down")
		return
	}
	metrics.ConnectionsActive.Inc()
	defer func() {
		h.untrack(conn)
		if conn.Authenticated() {
			h.registry.Remove(conn.UserID(), conn)
		}
		conn.terminate()
		metrics.ConnectionsActive.Dec()
		slog.Debug("Connection closed", "connection_id", conn.ID(), "user_id", conn.UserID())
	}()

	// Hard deadline: a connection that never completes the handshake is
	// closed with a policy violation regardless of any other activity.
	authTimer := h.clock.AfterFunc(h.authTimeout, func() {
		if conn.Authenticated() || conn.Closed() {
			return
		}
		slog.Info("Authentication timeout", "connection_id", conn.ID())
		metrics.AuthHandshakesTotal.WithLabelValues("timeout").Inc()
		metrics.ConnectionsClosedTotal.WithLabelValues("auth_timeout").Inc()
		conn.closeWithReason(websocket.ClosePolicyViolation, "authentication timeout")
	})
	defer authTimer.Stop()

	conn.enqueue(connectedMessage(conn.ID()))
	slog.Debug("Connection accepted", "connection_id", conn.ID())

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		conn.recordActivity()
		_ = ws.SetReadDeadline(time.Now().Add(pongDeadline))

		if fatal := h.handleMessage(ctx, conn, data); fatal {
			return
		}
	}
}

// handleMessage processes one client message. Protocol errors (malformed
// payloads, unknown types, messages before auth) are recoverable: the
// client gets a typed error and the connection stays open. Only a failed
// handshake is fatal.
func (h *Hub) handleMessage(ctx context.Context, conn *Conn, data []byte) bool {
	msg, err := parseClientMessage(data)
	if err != nil {
		conn.enqueue(errorMessage("Invalid message format"))
		return false
	}

	if !conn.Authenticated() {
		if msg.kind() == kindAuth {
			return h.handleAuth(ctx, conn, msg.Token)
		}
		conn.enqueue(errorMessage("Not authenticated"))
		return false
	}

	switch msg.kind() {
	case kindAuth:
		conn.enqueue(errorMessage("Already authenticated"))
	case kindSubscribe:
		if msg.Topic == "" {
			conn.enqueue(errorMessage("Missing topic"))
			return false
		}
		conn.Subscribe(msg.Topic)
		conn.enqueue(subscriptionConfirmedMessage(msg.Topic))
		h.dispatcher.DeliverBuffered(conn, msg.Topic)
	case kindUnsubscribe:
		if msg.Topic == "" {
			conn.enqueue(errorMessage("Missing topic"))
			return false
		}
		conn.Unsubscribe(msg.Topic)
		conn.enqueue(unsubscriptionConfirmedMessage(msg.Topic))
	case kindPing:
		conn.enqueue(pongMessage())
	default:
		conn.enqueue(errorMessage("Unknown message type"))
	}
	return false
}

func (h *Hub) handleAuth(ctx context.Context, conn *Conn, token string) bool {
	if token == "" {
		conn.enqueue(errorMessage("Missing token"))
		return false
	}

	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	session, err := h.verifier.Verify(vctx, token)
	cancel()
	if err != nil {
		slog.Info("Authentication failed", "connection_id", conn.ID(), "error", err)
		metrics.AuthHandshakesTotal.WithLabelValues("invalid_token").Inc()
		metrics.ConnectionsClosedTotal.WithLabelValues("auth_failed").Inc()
		conn.enqueue(errorMessage("Authentication failed"))
		conn.closeWithReason(websocket.ClosePolicyViolation, "authentication failed")
		return true
	}

	conn.setAuthenticated(session.UserID)
	h.registry.Admit(session.UserID, conn)
	metrics.AuthHandshakesTotal.WithLabelValues("success").Inc()
	conn.enqueue(authSuccessMessage(session.UserID))
	slog.Info("Connection authenticated", "connection_id", conn.ID(), "user_id", session.UserID)

	// Replay everything buffered while the user was offline. This is
	// user-scoped: no subscriptions exist yet at this point.
	h.dispatcher.DeliverBuffered(conn, "")
	return false
}

func (h *Hub) track(conn *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.open[conn.ID()] = conn
	return true
}

func (h *Hub) untrack(conn *Conn) {
	h.mu.Lock()
	delete(h.open, conn.ID())
	h.mu.Unlock()
}

// OpenConnections snapshots every open connection, authenticated or not.
func (h *Hub) OpenConnections() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Conn, 0, len(h.open))
	for _, c := range h.open {
		out = append(out, c)
	}
	return out
}

// Shutdown closes every open connection with a normal close frame and
// refuses new connections afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.open))
	for _, c := range h.open {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		metrics.ConnectionsClosedTotal.WithLabelValues("shutdown").Inc()
		c.closeWithReason(websocket.CloseNormalClosure, "server shutting down")
	}
	slog.Info("Hub shut down", "connections_closed", len(conns))
}
