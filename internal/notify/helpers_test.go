package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeVerifier resolves tokens from a fixed map.
type fakeVerifier struct {
	sessions map[string]Session
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// connPair upgrades one real WebSocket connection and wraps the server side
// in a Conn. Tests drive the client side directly.
func connPair(t *testing.T, clock clockwork.Clock) (*Conn, *gws.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	upgrader := gws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- newConn(ws, clock)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := <-connCh
	t.Cleanup(conn.terminate)
	return conn, client
}

// readFrame reads one text frame from the client side with a deadline.
func readFrame(t *testing.T, client *gws.Conn) []byte {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	return data
}

// readClose reads until the client side observes a close frame and returns
// the close code.
func readClose(t *testing.T, client *gws.Conn) int {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := client.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*gws.CloseError)
		require.True(t, ok, "expected close frame, got: %v", err)
		return closeErr.Code
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for range 200 {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
