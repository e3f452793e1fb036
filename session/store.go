package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when the target session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when the target session is past its lifetime.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionRevoked is returned when the target session was revoked.
var ErrSessionRevoked = errors.New("session revoked")

// ErrRefreshHashMismatch is the theft signal: the presented hash matches
// neither the current hash nor the previous hash inside its grace window.
// Stores revoke the session before returning it.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRefreshHashStale is returned when the presented hash is the previous
// hash and the grace window is still open. The rotation already happened;
// the caller should be told to retry with the newer token.
var ErrRefreshHashStale = errors.New("refresh hash stale")

// ErrSessionCorrupt is returned when a persisted session record is invalid.
var ErrSessionCorrupt = errors.New("session corrupt")

// ErrStoreUnavailable wraps transport failures to the backing store.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store persists login sessions and implements the atomic rotation
// protocol. Two implementations ship with the module: [RedisStore] (Lua
// compare-and-swap) and [PostgresStore] (row-lock transaction). Both
// classify a presented refresh hash the same way:
//
//	current hash            -> rotate, return the updated session
//	previous hash, in grace -> ErrRefreshHashStale
//	anything else           -> ErrRefreshHashMismatch, session revoked
type Store interface {
	Save(ctx context.Context, sess *Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	FindActiveByHash(ctx context.Context, hash [32]byte) (*Session, error)
	Rotate(ctx context.Context, sessionID string, providedHash, nextHash [32]byte, grace time.Duration) (*Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	ActiveSessionCount(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
	Ping(ctx context.Context) (time.Duration, error)
}
