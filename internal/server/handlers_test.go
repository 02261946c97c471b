package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adimov-eth/vibecheck-notify/internal/config"
	"github.com/adimov-eth/vibecheck-notify/internal/notify"
)

const testAPIKey = "test-api-key-0123456789"

type capturedPublish struct {
	userID    string
	topic     string
	eventType string
	payload   json.RawMessage
	ts        time.Time
}

type fakePublisher struct {
	published []capturedPublish
}

func (f *fakePublisher) Publish(userID, topic, eventType string, payload json.RawMessage, ts time.Time) {
	f.published = append(f.published, capturedPublish{userID, topic, eventType, payload, ts})
}

type serverFixture struct {
	server    *Server
	clock     *clockwork.FakeClock
	registry  *notify.Registry
	publisher *fakePublisher
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := &config.Config{
		Port:                        "8080",
		InternalAPIKey:              testAPIKey,
		MaxWebSocketConnections:     100,
		MaxConnectionsPerIP:         20,
		ConnectionRatePerIP:         1000,
		ConnectionBurstPerIP:        1000,
		MemoryPressureIdleThreshold: time.Minute,
	}

	clock := clockwork.NewFakeClock()
	registry := notify.NewRegistry(5, time.Minute, clock)
	buffer := notify.NewBuffer(10, time.Minute, clock)
	dispatcher := notify.NewDispatcher(registry, buffer)
	hub := notify.NewHub(registry, dispatcher, nil, 10*time.Second, clock)
	monitor := notify.NewMonitor(hub, buffer, clock, 30*time.Second, time.Minute, 5*time.Minute)
	publisher := &fakePublisher{}

	// Points at nothing: readiness tests exercise the failure path, handler
	// unit tests never touch Redis.
	redisClient := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = redisClient.Close() })

	srv := NewServer(cfg, hub, registry, monitor, publisher, redisClient)
	return &serverFixture{server: srv, clock: clock, registry: registry, publisher: publisher}
}

func (f *serverFixture) request(method, path, body, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleNotify(t *testing.T) {
	t.Run("accepts a valid event", func(t *testing.T) {
		f := newServerFixture(t)
		body := `{"user_id":"user-1","topic":"conversation:1","type":"transcript","payload":{"text":"hi"},"timestamp":"2026-08-26T10:00:00Z"}`

		rec := f.request(http.MethodPost, "/internal/notify", body, testAPIKey)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		require.Len(t, f.publisher.published, 1)
		got := f.publisher.published[0]
		assert.Equal(t, "user-1", got.userID)
		assert.Equal(t, "conversation:1", got.topic)
		assert.Equal(t, "transcript", got.eventType)
		assert.Equal(t, time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), got.ts)
	})

	t.Run("defaults a missing timestamp", func(t *testing.T) {
		f := newServerFixture(t)
		body := `{"user_id":"user-1","topic":"conversation:1","type":"status"}`

		rec := f.request(http.MethodPost, "/internal/notify", body, testAPIKey)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, f.publisher.published, 1)
		assert.WithinDuration(t, time.Now(), f.publisher.published[0].ts, time.Second)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		f := newServerFixture(t)
		cases := map[string]string{
			"missing user_id": `{"topic":"t","type":"status"}`,
			"missing topic":   `{"user_id":"u","type":"status"}`,
			"missing type":    `{"user_id":"u","topic":"t"}`,
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				rec := f.request(http.MethodPost, "/internal/notify", body, testAPIKey)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
		assert.Empty(t, f.publisher.published)
	})

	t.Run("rejects a missing API key", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.request(http.MethodPost, "/internal/notify", `{"user_id":"u","topic":"t","type":"status"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, f.publisher.published)
	})

	t.Run("rejects a wrong API key", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.request(http.MethodPost, "/internal/notify", `{"user_id":"u","topic":"t","type":"status"}`, "wrong-key")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleEvictIdle(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(http.MethodPost, "/internal/evict-idle", "", testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, float64(0), result["evicted"])
}

func TestHandleStats(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(http.MethodGet, "/internal/stats", "", testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, float64(0), result["total_connections"])
	assert.Equal(t, float64(0), result["total_users"])
}

func TestHandleLiveness(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ok", result["status"])
}

func TestHandleReadinessReportsRedisFailure(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "unhealthy", result["status"])
	assert.Equal(t, "redis", result["failed_check"])
}

func TestHandleVersion(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(http.MethodGet, "/version", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}
