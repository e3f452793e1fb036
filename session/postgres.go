package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the relational session store. Callers run it once
// at deploy time (or hand it to their migration tool).
const Schema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
    id                    UUID PRIMARY KEY,
    session_id            TEXT NOT NULL UNIQUE,
    user_id               TEXT NOT NULL,
    status                SMALLINT NOT NULL DEFAULT 0,
    current_refresh_hash  BYTEA NOT NULL,
    previous_refresh_hash BYTEA,
    previous_usable_until TIMESTAMPTZ,
    last_rotated_at       TIMESTAMPTZ NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL,
    expires_at            TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS auth_sessions_current_hash_idx
    ON auth_sessions (current_refresh_hash) WHERE status = 0;

CREATE INDEX IF NOT EXISTS auth_sessions_user_idx
    ON auth_sessions (user_id);
`

// PostgresStore is a pgx-backed [Store] for deployments that keep sessions
// in the relational database next to the user records. Rotation takes a
// row lock (SELECT ... FOR UPDATE) so concurrent refreshes against one
// session serialize in the database.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a [PostgresStore]. now supplies the clock
// (time.Now when nil).
func NewPostgresStore(pool *pgxpool.Pool, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{pool: pool, now: now}
}

// EnsureSchema creates the session table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Save inserts a new session row. The TTL argument is folded into
// expires_at, which Save trusts when already set on the session.
func (s *PostgresStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	expiresAt := sess.ExpiresAt
	if expiresAt == 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions
			(id, session_id, user_id, status, current_refresh_hash,
			 previous_refresh_hash, previous_usable_until,
			 last_rotated_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $8)`,
		uuid.New(),
		sess.SessionID,
		sess.UserID,
		int16(sess.Status),
		sess.CurrentRefreshHash[:],
		time.Unix(sess.LastRotatedAt, 0).UTC(),
		time.Unix(sess.CreatedAt, 0).UTC(),
		time.Unix(expiresAt, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.scanOne(ctx, s.pool, `
		SELECT session_id, user_id, status, current_refresh_hash,
		       previous_refresh_hash, previous_usable_until,
		       last_rotated_at, created_at, expires_at
		FROM auth_sessions
		WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= s.now().Unix() {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// FindActiveByHash resolves a session by its current refresh hash. The
// partial unique index guarantees at most one active match.
func (s *PostgresStore) FindActiveByHash(ctx context.Context, hash [32]byte) (*Session, error) {
	sess, err := s.scanOne(ctx, s.pool, `
		SELECT session_id, user_id, status, current_refresh_hash,
		       previous_refresh_hash, previous_usable_until,
		       last_rotated_at, created_at, expires_at
		FROM auth_sessions
		WHERE current_refresh_hash = $1 AND status = 0`, hash[:])
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= s.now().Unix() {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Rotate runs the rotation protocol in one transaction under a row lock.
func (s *PostgresStore) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash, nextHash [32]byte,
	grace time.Duration,
) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.scanOne(ctx, tx, `
		SELECT session_id, user_id, status, current_refresh_hash,
		       previous_refresh_hash, previous_usable_until,
		       last_rotated_at, created_at, expires_at
		FROM auth_sessions
		WHERE session_id = $1
		FOR UPDATE`, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	nowUnix := now.Unix()

	switch {
	case sess.Status != StatusActive:
		return nil, ErrSessionRevoked
	case sess.ExpiresAt <= nowUnix:
		return nil, ErrSessionExpired
	case sess.CurrentRefreshHash == providedHash:
		sess.PreviousRefreshHash = sess.CurrentRefreshHash
		sess.CurrentRefreshHash = nextHash
		sess.PreviousUsableUntil = now.Add(grace).Unix()
		sess.LastRotatedAt = nowUnix

		_, err = tx.Exec(ctx, `
			UPDATE auth_sessions
			SET current_refresh_hash = $2,
			    previous_refresh_hash = $3,
			    previous_usable_until = $4,
			    last_rotated_at = $5
			WHERE session_id = $1`,
			sessionID,
			sess.CurrentRefreshHash[:],
			sess.PreviousRefreshHash[:],
			time.Unix(sess.PreviousUsableUntil, 0).UTC(),
			now.UTC(),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return sess, nil
	case sess.PreviousRefreshHash == providedHash && nowUnix < sess.PreviousUsableUntil:
		return nil, ErrRefreshHashStale
	default:
		// Theft signal: revoke inside the same transaction.
		if _, err := tx.Exec(ctx,
			`UPDATE auth_sessions SET status = 1 WHERE session_id = $1`, sessionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, ErrRefreshHashMismatch
	}
}

// Revoke marks a session revoked. Missing or already-revoked sessions are
// a no-op.
func (s *PostgresStore) Revoke(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE auth_sessions SET status = 1 WHERE session_id = $1 AND status = 0`,
		sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser revokes every active session of a user in one statement.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE auth_sessions SET status = 1 WHERE user_id = $1 AND status = 0`,
		userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ActiveSessionCount returns the number of live sessions for a user.
func (s *PostgresStore) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM auth_sessions
		WHERE user_id = $1 AND status = 0 AND expires_at > $2`,
		userID, s.now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// ListForUser returns the user's live sessions ordered by creation time.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, status, current_refresh_hash,
		       previous_refresh_hash, previous_usable_until,
		       last_rotated_at, created_at, expires_at
		FROM auth_sessions
		WHERE user_id = $1 AND status = 0 AND expires_at > $2
		ORDER BY created_at`, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0, 4)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

// Ping returns a point-in-time availability check and latency.
func (s *PostgresStore) Ping(ctx context.Context) (time.Duration, error) {
	start := s.now()
	if err := s.pool.Ping(ctx); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) scanOne(ctx context.Context, q rowQuerier, sql string, args ...any) (*Session, error) {
	sess, err := scanSession(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess           Session
		status         int16
		currentHash    []byte
		previousHash   []byte
		previousUntil  *time.Time
		lastRotatedAt  time.Time
		createdAt      time.Time
		expiresAt      time.Time
	)

	err := row.Scan(
		&sess.SessionID,
		&sess.UserID,
		&status,
		&currentHash,
		&previousHash,
		&previousUntil,
		&lastRotatedAt,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if len(currentHash) != len(sess.CurrentRefreshHash) {
		return nil, ErrSessionCorrupt
	}
	copy(sess.CurrentRefreshHash[:], currentHash)
	if len(previousHash) == len(sess.PreviousRefreshHash) {
		copy(sess.PreviousRefreshHash[:], previousHash)
	}
	if previousUntil != nil {
		sess.PreviousUsableUntil = previousUntil.Unix()
	}

	sess.Status = uint8(status)
	sess.LastRotatedAt = lastRotatedAt.Unix()
	sess.CreatedAt = createdAt.Unix()
	sess.ExpiresAt = expiresAt.Unix()

	return &sess, nil
}
