package sessionauth

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	StoreAvailable bool
	StoreLatency   time.Duration
}

// ActiveSessionCount describes the activesessioncount operation and its observable behavior.
//
// ActiveSessionCount may return an error when input validation, dependency calls, or security checks fail.
// ActiveSessionCount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}

	n, err := e.sessionStore.ActiveSessionCount(ctx, userID)
	if err != nil {
		e.metricInc(MetricStoreError)
		return 0, &StorageError{Op: "session_count", Err: err}
	}
	return n, nil
}

// ListSessions describes the listsessions operation and its observable behavior.
//
// The returned views carry timestamps only; refresh hashes and token
// material never leave the store layer.
//
// ListSessions may return an error when input validation, dependency calls, or security checks fail.
// ListSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	sessions, err := e.sessionStore.ListForUser(ctx, userID)
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, &StorageError{Op: "session_list", Err: err}
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			SessionID:     sess.SessionID,
			UserID:        sess.UserID,
			CreatedAt:     sess.CreatedAt,
			LastRotatedAt: sess.LastRotatedAt,
			ExpiresAt:     sess.ExpiresAt,
		})
	}

	return out, nil
}

// Health describes the health operation and its observable behavior.
//
// Health may return an error when input validation, dependency calls, or security checks fail.
// Health does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{
		StoreAvailable: err == nil,
		StoreLatency:   latency,
	}
}

// LoginAttempts describes the loginattempts operation and its observable behavior.
//
// LoginAttempts may return an error when input validation, dependency calls, or security checks fail.
// LoginAttempts does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	if e == nil || e.rateLimiter == nil {
		return 0, ErrEngineNotReady
	}
	if identifier == "" {
		return 0, nil
	}

	return e.rateLimiter.LoginAttempts(ctx, identifier)
}
