package session

// Status values persisted in the session record. Revocation is terminal:
// a revoked session never transitions back to active.
const (
	StatusActive  uint8 = 0
	StatusRevoked uint8 = 1
)

// Session defines a public type used by sessionauth APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID string
	UserID    string

	Status uint8

	// CurrentRefreshHash is the hash of the only refresh secret that
	// rotates the session. PreviousRefreshHash stays valid as a
	// retry-detection marker until PreviousUsableUntil (unix seconds).
	CurrentRefreshHash  [32]byte
	PreviousRefreshHash [32]byte
	PreviousUsableUntil int64

	LastRotatedAt int64
	CreatedAt     int64
	ExpiresAt     int64
}

// Active reports whether the session can still mint access tokens at the
// given unix time.
func (s *Session) Active(nowUnix int64) bool {
	return s != nil && s.Status == StatusActive && s.ExpiresAt > nowUnix
}
