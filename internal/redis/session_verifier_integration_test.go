package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adimov-eth/vibecheck-notify/internal/notify"
)

func TestSessionVerifierIntegration(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewRealClock()
	verifier := NewSessionVerifier(client, clock)

	t.Run("resolves a session written by the auth service", func(t *testing.T) {
		record := `{"user_id":"user-1","expires_at":"` + time.Now().Add(time.Hour).UTC().Format(time.RFC3339) + `"}`
		require.NoError(t, client.Set(ctx, "session:tok-1", record, time.Hour).Err())

		session, err := verifier.Verify(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", session.UserID)
	})

	t.Run("missing key maps to ErrSessionNotFound", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "nope")
		assert.ErrorIs(t, err, notify.ErrSessionNotFound)
	})

	t.Run("stale record maps to ErrSessionExpired", func(t *testing.T) {
		record := `{"user_id":"user-2","expires_at":"` + time.Now().Add(-time.Minute).UTC().Format(time.RFC3339) + `"}`
		require.NoError(t, client.Set(ctx, "session:tok-2", record, time.Hour).Err())

		_, err := verifier.Verify(ctx, "tok-2")
		assert.ErrorIs(t, err, notify.ErrSessionExpired)
	})
}
