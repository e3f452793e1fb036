package sessionauth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is an exported constant or variable used by the authentication engine.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginRateLimited is an exported constant or variable used by the authentication engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is an exported constant or variable used by the authentication engine.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSessionCreationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is an exported constant or variable used by the authentication engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// StaleRetryError defines a public type used by sessionauth APIs.
//
// StaleRetryError reports that a refresh token was already rotated away but
// is still inside its grace window. It is an expected race, not a theft
// signal: the client raced its own retry and should refresh again with the
// newer token it already received. SessionID identifies the session so
// callers can correlate the retry.
type StaleRetryError struct {
	SessionID string
}

func (e *StaleRetryError) Error() string {
	return fmt.Sprintf("stale refresh token for session %s, retry with the newer token", e.SessionID)
}

// Is reports whether target matches this error kind, so
// errors.Is(err, &StaleRetryError{}) works without field equality.
func (e *StaleRetryError) Is(target error) bool {
	_, ok := target.(*StaleRetryError)
	return ok
}

// StorageError defines a public type used by sessionauth APIs.
//
// StorageError wraps a session store failure that is neither an
// authentication outcome nor a client mistake. HTTP layers should map it
// to a 5xx, never a 401.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target matches this error kind regardless of Op.
func (e *StorageError) Is(target error) bool {
	_, ok := target.(*StorageError)
	return ok
}
