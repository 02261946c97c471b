package notify

import (
	"encoding/json"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatcherFixture(t *testing.T) (*clockwork.FakeClock, *Registry, *Buffer, *Dispatcher) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(5, time.Minute, clock)
	buffer := NewBuffer(10, time.Minute, clock)
	return clock, registry, buffer, NewDispatcher(registry, buffer)
}

func TestDispatcher_PublishFansOutToSubscribedConnections(t *testing.T) {
	clock, registry, _, dispatcher := dispatcherFixture(t)

	clients := make([]*gws.Conn, 0, 3)
	for range 3 {
		conn, client := connPair(t, clock)
		conn.setAuthenticated("user-1")
		conn.Subscribe("conversation:1")
		registry.Admit("user-1", conn)
		clients = append(clients, client)
		clock.Advance(time.Millisecond)
	}

	// Same user, different topic: must not receive the event.
	other, otherClient := connPair(t, clock)
	other.setAuthenticated("user-1")
	other.Subscribe("conversation:2")
	registry.Admit("user-1", other)

	dispatcher.Publish("user-1", "conversation:1", "transcript", json.RawMessage(`{"text":"hi"}`), clock.Now())

	for _, client := range clients {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(readFrame(t, client), &decoded))
		assert.Equal(t, "transcript", decoded["type"])
	}

	require.NoError(t, otherClient.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := otherClient.ReadMessage()
	assert.Error(t, err, "unsubscribed connection must not receive the event")
}

func TestDispatcher_PublishBuffersWhenNoSubscriberReachable(t *testing.T) {
	clock, registry, buffer, dispatcher := dispatcherFixture(t)

	// Online but not subscribed to this topic.
	conn, _ := connPair(t, clock)
	conn.setAuthenticated("user-1")
	registry.Admit("user-1", conn)

	dispatcher.Publish("user-1", "conversation:1", "status", json.RawMessage(`{"state":"done"}`), clock.Now())
	assert.Equal(t, 1, buffer.Len("user-1"))

	// Fully offline user.
	dispatcher.Publish("user-2", "conversation:9", "status", nil, clock.Now())
	assert.Equal(t, 1, buffer.Len("user-2"))
}

func TestDispatcher_PublishSkipsClosedConnections(t *testing.T) {
	clock, registry, buffer, dispatcher := dispatcherFixture(t)

	conn, _ := connPair(t, clock)
	conn.setAuthenticated("user-1")
	conn.Subscribe("conversation:1")
	registry.Admit("user-1", conn)
	conn.terminate()

	dispatcher.Publish("user-1", "conversation:1", "status", nil, clock.Now())
	assert.Equal(t, 1, buffer.Len("user-1"))
}

func TestDispatcher_DeliverBufferedReplaysInOrder(t *testing.T) {
	clock, _, buffer, dispatcher := dispatcherFixture(t)

	dispatcher.Publish("user-1", "conversation:1", "status", json.RawMessage(`{"seq":1}`), clock.Now())
	dispatcher.Publish("user-1", "conversation:1", "transcript", json.RawMessage(`{"seq":2}`), clock.Now())
	require.Equal(t, 2, buffer.Len("user-1"))

	conn, client := connPair(t, clock)
	conn.setAuthenticated("user-1")

	delivered := dispatcher.DeliverBuffered(conn, "conversation:1")
	assert.Equal(t, 2, delivered)

	types := make([]string, 0, 2)
	for range 2 {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(readFrame(t, client), &decoded))
		types = append(types, decoded["type"].(string))
	}
	assert.Equal(t, []string{"status", "transcript"}, types)

	// A second replay delivers nothing: entries are removed once sent.
	assert.Equal(t, 0, dispatcher.DeliverBuffered(conn, "conversation:1"))
	assert.Equal(t, 0, buffer.Len("user-1"))
}

func TestDispatcher_DeliverBufferedRequiresAuthenticatedUser(t *testing.T) {
	clock, _, buffer, dispatcher := dispatcherFixture(t)
	buffer.Append("user-1", "t", []byte("x"))

	conn, _ := connPair(t, clock)
	assert.Equal(t, 0, dispatcher.DeliverBuffered(conn, ""))
	assert.Equal(t, 1, buffer.Len("user-1"))
}
