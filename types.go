package sessionauth

// UserProvider is the primary interface that callers must implement to
// integrate sessionauth with their user database. The engine only reads
// credentials; creating, updating, and deleting users stays with the host
// application.
//
//	Docs: docs/engine.md, docs/usage.md
type UserProvider interface {
	GetUserByIdentifier(identifier string) (UserRecord, error)
	GetUserByID(userID string) (UserRecord, error)
}

// PasswordHashUpdater is optionally implemented by a [UserProvider]. When
// present and [PasswordConfig].UpgradeOnLogin is set, the engine rehashes
// credentials with the current Argon2 parameters after a successful login.
type PasswordHashUpdater interface {
	UpdatePasswordHash(userID string, newHash string) error
}

// UserRecord is the account record returned by [UserProvider]. It carries
// the credential hash and a disabled flag; everything else about the user
// lives in the host application.
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Disabled     bool
}

// AuthResult is returned by [Engine.ValidateAccess] and
// [Engine.CurrentUser]. It identifies the authenticated user and the
// refresh session the access token was minted from.
//
//	Docs: docs/jwt.md
type AuthResult struct {
	UserID    string
	SessionID string
}

// LoginResult is returned by [Engine.Login]. The refresh token is opaque
// and single-use; the access token is a signed JWT.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// RefreshResult is returned by [Engine.Refresh]. Retries of the same
// refresh token inside the idempotency window receive an identical result.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	UserID       string
}

// SessionInfo is a read-only session view returned by
// [Engine.ListSessions]. Hashes are never exposed.
type SessionInfo struct {
	SessionID     string
	UserID        string
	CreatedAt     int64
	LastRotatedAt int64
	ExpiresAt     int64
}
