package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
	rotateStatusRevoked     int64 = 5
	rotateStatusStale       int64 = 6
)

const rotateRefreshScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function write_be64(v)
  local out = {}
  for i = 8, 1, -1 do
    out[i] = string.char(v % 256)
    v = math.floor(v / 256)
  end
  return table.concat(out)
end

local function parse_session(data)
  local version = string.byte(data, 1)
  if version ~= 1 then
    return nil
  end

  local status = string.byte(data, 2)
  local uid_len = string.byte(data, 3)
  if not uid_len or uid_len == 0 then
    return nil
  end
  if #data ~= uid_len + 99 then
    return nil
  end

  local user_id = string.sub(data, 4, 3 + uid_len)
  local ho = 4 + uid_len

  return {
    status = status,
    user_id = user_id,
    hash_offset = ho,
    current_hash = string.sub(data, ho, ho + 31),
    previous_hash = string.sub(data, ho + 32, ho + 63),
    previous_until = read_be64(data, ho + 64),
    created_offset = ho + 80,
    expires_at = read_be64(data, ho + 88),
  }
end

local session_key = KEYS[1]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local hash_prefix = ARGV[3]
local provided_hash = ARGV[4]
local next_hash = ARGV[5]
local now_unix = tonumber(ARGV[6])
local grace = tonumber(ARGV[7])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local parsed = parse_session(data)
if not parsed then
  return {4}
end

local user_key = user_prefix .. parsed.user_id
local zero_hash = string.rep(string.char(0), 32)

if parsed.status ~= 0 then
  return {5}
end

if parsed.expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("DEL", hash_prefix .. parsed.current_hash)
  redis.call("SREM", user_key, session_id)
  return {1}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("DEL", hash_prefix .. parsed.current_hash)
  redis.call("SREM", user_key, session_id)
  return {1}
end

if parsed.current_hash == provided_hash then
  local updated = string.sub(data, 1, parsed.hash_offset - 1)
    .. next_hash
    .. provided_hash
    .. write_be64(now_unix + grace)
    .. write_be64(now_unix)
    .. string.sub(data, parsed.created_offset)
  redis.call("SET", session_key, updated, "PX", ttl)
  redis.call("DEL", hash_prefix .. provided_hash)
  redis.call("SET", hash_prefix .. next_hash, session_id, "PX", ttl)
  redis.call("SADD", user_key, session_id)
  return {3, updated}
end

if parsed.previous_hash ~= zero_hash
  and parsed.previous_hash == provided_hash
  and now_unix < parsed.previous_until then
  return {6}
end

local revoked = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
redis.call("SET", session_key, revoked, "PX", ttl)
redis.call("DEL", hash_prefix .. parsed.current_hash)
return {2}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const revokeSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if string.byte(data, 2) ~= 0 then
  return 0
end

local uid_len = string.byte(data, 3)
local ho = 4 + uid_len
local current_hash = string.sub(data, ho, ho + 31)

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", ARGV[2] .. current_hash)
  return 0
end

local revoked = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
redis.call("SET", KEYS[1], revoked, "PX", ttl)
redis.call("DEL", ARGV[2] .. current_hash)
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// RedisStore is a Redis-backed [Store]. Rotation runs as a single Lua
// compare-and-swap so concurrent refreshes against one session serialize
// inside Redis: exactly one caller observes the current hash.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	hashPrefix string
	userPrefix string
	now        func() time.Time
}

// NewRedisStore creates a [RedisStore]. prefix sets the session key
// namespace; now supplies the clock (time.Now when nil).
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "ss"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{
		redis:      client,
		prefix:     prefix,
		hashPrefix: prefix + "h:",
		userPrefix: prefix + "u:",
		now:        now,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.userPrefix + userID
}

func (s *RedisStore) hashKey(hash [32]byte) string {
	return s.hashPrefix + string(hash[:])
}

// Save persists a [Session] with the given TTL and indexes it by user and
// by current refresh hash.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.Set(ctx, s.hashKey(sess.CurrentRefreshHash), sess.SessionID, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Get retrieves a session by ID. Expired records are deleted on read.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt <= s.now().Unix() {
		if err := s.deleteSession(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// FindActiveByHash resolves a session by its current refresh hash.
func (s *RedisStore) FindActiveByHash(ctx context.Context, hash [32]byte) (*Session, error) {
	sessionID, err := s.redis.Get(ctx, s.hashKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive || sess.CurrentRefreshHash != hash {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Rotate atomically swaps the refresh hash via the Lua CAS script. On
// success the prior hash becomes the previous hash with a grace deadline
// of now+grace.
func (s *RedisStore) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash, nextHash [32]byte,
	grace time.Duration,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.userPrefix,
		s.hashPrefix,
		providedHash[:],
		nextHash[:],
		s.now().Unix(),
		int64(grace/time.Second),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusRevoked:
		return nil, ErrSessionRevoked
	case rotateStatusStale:
		return nil, ErrRefreshHashStale
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrStoreUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrStoreUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionID
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, ErrSessionCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

// Revoke marks a session revoked in place, keeping the record until its
// TTL runs out. Revoking a missing or already-revoked session is a no-op.
func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	_, err := revokeSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.hashPrefix,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser revokes every tracked session of a user.
//
// ATOMICITY NOTE: this reads the user's session set and then revokes each
// entry; a session created between the read and the revocations is not
// captured. The stray session expires naturally or is caught by the next
// call.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) error {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, sessionID := range sessionIDs {
		if err := s.Revoke(ctx, sessionID); err != nil {
			return err
		}
	}

	if err := s.redis.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ActiveSessionCount returns the number of live sessions for a user.
func (s *RedisStore) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// ListForUser returns the user's live sessions. Expired or revoked
// entries are pruned from the user index as a side effect.
func (s *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	nowUnix := s.now().Unix()
	sessions := make([]*Session, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sess, err := s.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = s.redis.SRem(ctx, s.userKey(userID), sessionID).Err()
				continue
			}
			return nil, err
		}
		if !sess.Active(nowUnix) {
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// Ping returns a point-in-time availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := s.now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) deleteSession(ctx context.Context, sess *Session) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sess.SessionID))
		pipe.Del(ctx, s.hashKey(sess.CurrentRefreshHash))
		pipe.SRem(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
