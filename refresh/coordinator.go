package refresh

import (
	"context"
	"errors"
)

// ErrCoordinatorClosed is an exported constant or variable used by the
// authentication engine. It is returned by [Coordinator.Do] after Close.
var ErrCoordinatorClosed = errors.New("refresh coordinator closed")

// Outcome defines a public type used by sessionauth APIs.
//
// Outcome carries the result of one successful refresh rotation: the newly
// minted token pair and the session it belongs to. Cached outcomes are
// returned verbatim to retrying callers inside the idempotency window.
type Outcome struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
}

// RotateFunc performs the actual rotation. It receives a context that is
// detached from the caller's cancellation, so a client disconnect never
// interrupts a rotation in progress.
type RotateFunc func(ctx context.Context) (Outcome, error)

// Coordinator describes the refresh coalescing contract.
//
// Do executes rotate at most once per key across concurrent callers and
// replays a recent successful Outcome for the same key without invoking
// rotate again. The key is the hash of the presented refresh token, never
// the raw token.
//
// Do may return the caller's context error while the rotation continues
// in the background; the completed result is still cached for replay.
type Coordinator interface {
	Do(ctx context.Context, key [32]byte, rotate RotateFunc) (Outcome, error)
	Close() error
}
