package sessionauth

import (
	"context"
	"sync"
	"testing"
)

func TestRefreshConcurrentCallersShareOneRotation(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	login, err := engine.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan *RefreshResult, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := engine.Refresh(context.Background(), login.RefreshToken)
			if err != nil {
				t.Errorf("refresh failed: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var first *RefreshResult
	count := 0
	for res := range results {
		count++
		if first == nil {
			first = res
			continue
		}
		if res.AccessToken != first.AccessToken || res.RefreshToken != first.RefreshToken {
			t.Fatal("concurrent refreshes must return the identical token pair")
		}
	}
	if count != n {
		t.Fatalf("expected %d successful refreshes, got %d", n, count)
	}

	snap := engine.MetricsSnapshot()
	if got := snap.Counters[MetricRefreshSuccess]; got != 1 {
		t.Fatalf("expected exactly one store rotation, metrics report %d", got)
	}
	if got := snap.Counters[MetricRefreshReplayed]; got != n-1 {
		t.Fatalf("expected %d replayed refreshes, metrics report %d", n-1, got)
	}
}

func TestRefreshSequentialChainAdvancesTokens(t *testing.T) {
	engine := newTestEngine(t, engineTestConfig(), newMockUserProvider(t), nil)

	login, err := engine.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	seen := map[string]bool{login.RefreshToken: true}
	token := login.RefreshToken
	for i := 0; i < 3; i++ {
		res, err := engine.Refresh(context.Background(), token)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
		if res.SessionID != login.SessionID {
			t.Fatalf("refresh %d changed session id", i)
		}
		if seen[res.RefreshToken] {
			t.Fatalf("refresh %d returned a previously issued token", i)
		}
		seen[res.RefreshToken] = true
		token = res.RefreshToken
	}
}
