package sessionauth

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bingeworks/sessionauth/internal"
	"github.com/bingeworks/sessionauth/refresh"
	"github.com/bingeworks/sessionauth/session"
)

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh rotates the session behind the presented refresh token and
// returns a fresh token pair. Concurrent calls with the same token share
// one rotation, and a retry inside the idempotency window replays the
// original result. A token that matches neither the current nor the
// in-grace previous hash revokes the session and returns
// [ErrRefreshReuse].
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e.coordinator == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrRefreshInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, ErrRefreshRateLimited, nil)
			e.emitRateLimit(ctx, "refresh", func() map[string]string {
				return map[string]string{
					"session_id": sessionID,
				}
			})
			return nil, ErrRefreshRateLimited
		}
	}

	// The raw token never becomes a map key; the coordinator keys on its
	// hash.
	key := internal.HashRefreshToken(refreshToken)

	var rotated atomic.Bool
	outcome, err := e.coordinator.Do(ctx, key, func(ctx context.Context) (refresh.Outcome, error) {
		rotated.Store(true)
		return e.rotateSession(ctx, sessionID, providedSecret)
	})
	if err != nil {
		return nil, err
	}

	if !rotated.Load() {
		// Served from the coordinator: a coalesced wait or an idempotent
		// replay, either way no second store rotation happened.
		e.metricInc(MetricRefreshReplayed)
		e.emitAudit(ctx, auditEventRefreshReplayed, true, outcome.UserID, outcome.SessionID, nil, nil)
	}

	return &RefreshResult{
		AccessToken:  outcome.AccessToken,
		RefreshToken: outcome.RefreshToken,
		SessionID:    outcome.SessionID,
		UserID:       outcome.UserID,
	}, nil
}

// rotateSession is the coordinator callback. It runs on a context detached
// from the HTTP request, so a client timeout cannot abandon the store
// rotation halfway.
func (e *Engine) rotateSession(ctx context.Context, sessionID string, providedSecret [32]byte) (refresh.Outcome, error) {
	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, err, func() map[string]string {
			return map[string]string{
				"reason": "next_secret_generation",
			}
		})
		return refresh.Outcome{}, err
	}

	sess, err := e.sessionStore.Rotate(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
		e.config.Refresh.GraceWindow,
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionInvalidated)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, ErrRefreshReuse, nil)
			return refresh.Outcome{}, ErrRefreshReuse
		case errors.Is(err, session.ErrRefreshHashStale):
			staleErr := &StaleRetryError{SessionID: sessionID}
			e.metricInc(MetricRefreshStaleRetry)
			e.emitAudit(ctx, auditEventRefreshStaleRetry, false, "", sessionID, staleErr, nil)
			return refresh.Outcome{}, staleErr
		case errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionRevoked):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
				return map[string]string{
					"reason": "session_not_found",
				}
			})
			return refresh.Outcome{}, ErrSessionNotFound
		case errors.Is(err, session.ErrStoreUnavailable):
			storageErr := &StorageError{Op: "rotate", Err: err}
			e.metricInc(MetricRefreshFailure)
			e.metricInc(MetricStoreError)
			e.emitAudit(ctx, auditEventStoreUnavailable, false, "", sessionID, storageErr, nil)
			return refresh.Outcome{}, storageErr
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, err, func() map[string]string {
				return map[string]string{
					"reason": "rotate_failed",
				}
			})
			return refresh.Outcome{}, err
		}
	}

	access, err := e.jwtManager.CreateAccess(sess.UserID, sess.SessionID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return refresh.Outcome{}, err
	}

	newToken, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, err, func() map[string]string {
			return map[string]string{
				"reason": "encode_refresh_failed",
			}
		})
		return refresh.Outcome{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.SessionID, nil, nil)

	return refresh.Outcome{
		AccessToken:  access,
		RefreshToken: newToken,
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
	}, nil
}
