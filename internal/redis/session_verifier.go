package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/adimov-eth/vibecheck-notify/internal/notify"
)

const sessionKeyPrefix = "session:"

// sessionGetter is the slice of the go-redis client the verifier needs.
type sessionGetter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// sessionRecord is the JSON document the auth service writes per token.
type sessionRecord struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionVerifier resolves session tokens against Redis. It implements
// notify.SessionVerifier for the authentication handshake.
type SessionVerifier struct {
	rdb   sessionGetter
	clock clockwork.Clock
}

var _ notify.SessionVerifier = (*SessionVerifier)(nil)

func NewSessionVerifier(rdb sessionGetter, clock clockwork.Clock) *SessionVerifier {
	return &SessionVerifier{rdb: rdb, clock: clock}
}

// Verify looks up the token's session record and checks its expiry.
func (v *SessionVerifier) Verify(ctx context.Context, token string) (notify.Session, error) {
	data, err := v.rdb.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, goredis.Nil) {
		return notify.Session{}, notify.ErrSessionNotFound
	}
	if err != nil {
		return notify.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return notify.Session{}, fmt.Errorf("failed to decode session record: %w", err)
	}

	if !record.ExpiresAt.IsZero() && !v.clock.Now().Before(record.ExpiresAt) {
		return notify.Session{}, notify.ErrSessionExpired
	}

	return notify.Session{UserID: record.UserID, ExpiresAt: record.ExpiresAt}, nil
}
