package sessionauth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bingeworks/sessionauth/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return hasher
}

func engineTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = time.Minute
	cfg.JWT.RefreshTTL = 24 * time.Hour
	// Cheap argon2 parameters; hashing cost is not under test.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Metrics.Enabled = true
	return cfg
}

type mockUserProvider struct {
	users        map[string]UserRecord
	byIdentifier map[string]string
}

func (p *mockUserProvider) GetUserByIdentifier(identifier string) (UserRecord, error) {
	id, ok := p.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return p.users[id], nil
}

func (p *mockUserProvider) GetUserByID(userID string) (UserRecord, error) {
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func newMockUserProvider(t *testing.T) *mockUserProvider {
	t.Helper()
	hash, err := newTestHasher(t).Hash("correct-password-123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return &mockUserProvider{
		users: map[string]UserRecord{
			"u1": {
				UserID:       "u1",
				Identifier:   "alice",
				PasswordHash: hash,
			},
		},
		byIdentifier: map[string]string{"alice": "u1"},
	}
}

func newTestEngine(t *testing.T, cfg Config, up UserProvider, sink AuditSink) *Engine {
	t.Helper()

	_, rdb := newTestRedis(t)
	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
