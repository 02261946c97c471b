package notify

import (
	"context"
	"errors"
	"time"
)

// Session is a verified client session.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

var (
	// ErrSessionNotFound means the token resolves to no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session exists but is past its expiry.
	ErrSessionExpired = errors.New("session expired")
)

// SessionVerifier resolves an opaque session token into a user identity.
// Used exclusively during the authentication handshake.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (Session, error)
}
