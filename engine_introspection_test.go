package sessionauth

import (
	"context"
	"sync"
	"testing"
)

func TestIntrospectionSessionCountAndListAfterLoginLogout(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	login, err := engine.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	count, err := engine.ActiveSessionCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active session, got %d", count)
	}

	list, err := engine.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected list length 1, got %d", len(list))
	}
	if list[0].SessionID != login.SessionID {
		t.Fatalf("expected session id %s, got %s", login.SessionID, list[0].SessionID)
	}

	if err := engine.Logout(context.Background(), login.SessionID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	countAfter, err := engine.ActiveSessionCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount after logout failed: %v", err)
	}
	if countAfter != 0 {
		t.Fatalf("expected 0 active sessions after logout, got %d", countAfter)
	}
}

func TestIntrospectionRejectsEmptyUserID(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	if _, err := engine.ActiveSessionCount(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := engine.ListSessions(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestIntrospectionHealthReportsStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(engineTestConfig()).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider(t)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if health := engine.Health(context.Background()); !health.StoreAvailable {
		t.Fatal("expected store available while redis is up")
	}

	mr.Close()

	if health := engine.Health(context.Background()); health.StoreAvailable {
		t.Fatal("expected store unavailable after redis shutdown")
	}
}

func TestIntrospectionConcurrentCallsSafe(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(context.Background(), "alice", "correct-password-123"); err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
	}

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := engine.ActiveSessionCount(context.Background(), "u1"); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				if _, err := engine.ListSessions(context.Background(), "u1"); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				_ = engine.Health(context.Background())
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		t.Fatalf("concurrent introspection failed: %v", err)
	default:
	}
}

func TestIntrospectionMetricsSnapshotUnaffected(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	if _, err := engine.Login(context.Background(), "alice", "correct-password-123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	before := engine.MetricsSnapshot()

	if _, err := engine.ActiveSessionCount(context.Background(), "u1"); err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if _, err := engine.ListSessions(context.Background(), "u1"); err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	_ = engine.Health(context.Background())

	after := engine.MetricsSnapshot()
	for id := MetricID(0); id < metricIDCount; id++ {
		if before.Counters[id] != after.Counters[id] {
			t.Fatalf("expected metrics counter %d unchanged, before=%d after=%d", id, before.Counters[id], after.Counters[id])
		}
	}
}

func TestIntrospectionLoginAttemptsMissingReturnsZero(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	attempts, err := engine.LoginAttempts(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("LoginAttempts failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected zero attempts for missing identifier, got %d", attempts)
	}
}
