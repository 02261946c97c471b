package notify

import (
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPingInterval  = 30 * time.Second
	testSweepInterval = time.Minute
	testIdleTimeout   = 5 * time.Minute
)

func newMonitorFixture(t *testing.T) (*hubFixture, *Monitor) {
	t.Helper()
	f := newHubFixture(t)
	m := NewMonitor(f.hub, f.buffer, f.clock, testPingInterval, testSweepInterval, testIdleTimeout)
	return f, m
}

// readPump keeps the client side reading so its transport answers pings.
func readPump(client *gws.Conn) {
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func openConn(t *testing.T, f *hubFixture) *Conn {
	t.Helper()
	waitFor(t, func() bool { return len(f.hub.OpenConnections()) > 0 })
	return f.hub.OpenConnections()[0]
}

func TestMonitor_ResponsiveConnectionSurvivesPingSweeps(t *testing.T) {
	f, m := newMonitorFixture(t)
	client := f.authenticate(t)
	readPump(client)
	conn := openConn(t, f)

	m.pingSweep()
	// The peer's transport answers the ping without application involvement.
	waitFor(t, func() bool { return !conn.livenessPending() })

	m.pingSweep()
	waitFor(t, func() bool { return !conn.livenessPending() })
	assert.False(t, conn.Closed())
}

func TestMonitor_UnresponsiveConnectionIsTerminated(t *testing.T) {
	f, m := newMonitorFixture(t)
	f.authenticate(t) // no read pump: pings go unanswered
	conn := openConn(t, f)

	m.pingSweep()
	require.True(t, conn.livenessPending())

	m.pingSweep()
	assert.True(t, conn.Closed())
}

func TestMonitor_IdleSweepClosesQuietConnections(t *testing.T) {
	f, m := newMonitorFixture(t)
	client := f.authenticate(t)
	conn := openConn(t, f)

	// A fresh connection is not idle.
	m.idleSweep()
	assert.False(t, conn.Closed())

	f.clock.Advance(testIdleTimeout + time.Second)
	m.idleSweep()
	assert.True(t, conn.Closed())
	assert.Equal(t, gws.CloseNormalClosure, readClose(t, client))

	// The read loop unregisters the connection once it observes the close.
	waitFor(t, func() bool { return f.registry.Stats().TotalConnections == 0 })
}

func TestMonitor_IdleSweepExpiresBufferedMessages(t *testing.T) {
	f, m := newMonitorFixture(t)

	f.buffer.Append("user-1", "t", []byte("x"))
	f.clock.Advance(2 * time.Minute) // past the fixture's 1m TTL

	m.idleSweep()
	assert.Equal(t, 0, f.buffer.Len("user-1"))
}

func TestMonitor_EvictIdleUsesCallerThreshold(t *testing.T) {
	f, m := newMonitorFixture(t)
	f.authenticate(t)
	conn := openConn(t, f)

	f.clock.Advance(90 * time.Second)

	// Below the sweep's own timeout, but past the caller's threshold.
	assert.Equal(t, 0, m.closeIdle(testIdleTimeout))
	assert.Equal(t, 1, m.EvictIdle(time.Minute))
	assert.True(t, conn.Closed())
}

func TestMonitor_StartStop(t *testing.T) {
	_, m := newMonitorFixture(t)

	m.Start()
	m.Stop()

	// Stop is idempotent.
	m.Stop()
}
