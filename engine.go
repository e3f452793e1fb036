package sessionauth

import (
	"context"
	"log"
	"time"

	"github.com/bingeworks/sessionauth/internal"
	"github.com/bingeworks/sessionauth/internal/rate"
	"github.com/bingeworks/sessionauth/jwt"
	"github.com/bingeworks/sessionauth/password"
	"github.com/bingeworks/sessionauth/refresh"
	"github.com/bingeworks/sessionauth/session"
)

// Engine defines a public type used by sessionauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	sessionStore session.Store
	rateLimiter  *rate.Limiter
	coordinator  refresh.Coordinator
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	userProvider UserProvider
}

// Close describes the close operation and its observable behavior.
//
// Close drains the audit dispatcher and releases the refresh coordinator.
// It does not close the Redis or Postgres clients, which are owned by the
// caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.coordinator != nil {
		_ = e.coordinator.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login describes the login operation and its observable behavior.
//
// Login verifies the credentials, creates a refresh session, and returns a
// signed access token plus the opaque refresh token. Credential failures
// are indistinguishable from unknown identifiers.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, username, pass string) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	if e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": username,
				}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": username,
				}
			})
			return nil, ErrLoginRateLimited
		}
	}
	if pass == "" {
		return nil, e.failLogin(ctx, username, ip, "", "empty_password")
	}

	user, err := e.userProvider.GetUserByIdentifier(username)
	if err != nil {
		return nil, e.failLogin(ctx, username, ip, "", "user_not_found")
	}

	ok, err := e.passwordHash.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, username, ip, user.UserID, "password_mismatch")
	}
	if user.Disabled {
		return nil, e.failLogin(ctx, username, ip, user.UserID, "account_disabled")
	}

	if e.config.Password.UpgradeOnLogin {
		if updater, canUpdate := e.userProvider.(PasswordHashUpdater); canUpdate {
			if needsUpgrade, err := e.passwordHash.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
				if upgradedHash, err := e.passwordHash.Hash(pass); err == nil {
					// Rehash update is best-effort and must not block successful login.
					if err := updater.UpdatePasswordHash(user.UserID, upgradedHash); err != nil {
						log.Print("sessionauth: password hash upgrade update failed")
					}
				} else {
					log.Print("sessionauth: password hash upgrade generation failed")
				}
			}
		}
	}
	pass = ""

	sid, err := internal.NewSessionID()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "session_id_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "refresh_secret_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:          sessionID,
		UserID:             user.UserID,
		Status:             session.StatusActive,
		CurrentRefreshHash: internal.HashRefreshSecret(refreshSecret),
		LastRotatedAt:      now.Unix(),
		CreatedAt:          now.Unix(),
		ExpiresAt:          now.Add(e.config.JWT.RefreshTTL).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, e.config.JWT.RefreshTTL); err != nil {
		e.metricInc(MetricLoginFailure)
		e.metricInc(MetricStoreError)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, sessionID, err, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "session_save_failed",
			}
		})
		return nil, &StorageError{Op: "session_save", Err: err}
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, sessionID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, sessionID, err, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "issue_access_failed",
			}
		})
		return nil, err
	}

	refreshToken, err := internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, sessionID, err, func() map[string]string {
			return map[string]string{
				"identifier": username,
				"reason":     "encode_refresh_failed",
			}
		})
		return nil, err
	}

	if e.rateLimiter != nil {
		// Counter reset is best-effort; a failed reset only shortens the
		// caller's remaining attempt budget.
		if err := e.rateLimiter.ResetLogin(ctx, username, ip); err != nil {
			log.Print("sessionauth: login limiter reset failed")
		}
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"identifier": username,
		}
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
	}, nil
}

func (e *Engine) failLogin(ctx context.Context, username, ip, userID, reason string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, username, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, userID, "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": username,
				}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": username,
				}
			})
			return ErrLoginRateLimited
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": username,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}

// ValidateAccess describes the validateaccess operation and its observable behavior.
//
// ValidateAccess verifies the access token signature and claims without
// touching the session store, so it stays on the latency budget of a pure
// CPU operation.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}

	return &AuthResult{
		UserID:    claims.UID,
		SessionID: claims.SID,
	}, nil
}

// CurrentUser describes the currentuser operation and its observable behavior.
//
// CurrentUser validates the access token and loads the user record behind
// it. The credential hash is stripped before the record is returned.
//
// CurrentUser may return an error when input validation, dependency calls, or security checks fail.
// CurrentUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CurrentUser(ctx context.Context, tokenStr string) (UserRecord, error) {
	result, err := e.ValidateAccess(ctx, tokenStr)
	if err != nil {
		return UserRecord{}, err
	}

	user, err := e.userProvider.GetUserByID(result.UserID)
	if err != nil {
		return UserRecord{}, ErrUserNotFound
	}

	user.PasswordHash = ""
	return user, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout revokes a single session. Revoking a missing or already-revoked
// session succeeds, so repeated logouts are safe.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	err := e.sessionStore.Revoke(ctx, sessionID)
	if err != nil {
		e.metricInc(MetricStoreError)
		e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, err, nil)
		return &StorageError{Op: "revoke", Err: err}
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, nil, nil)
	return nil
}

// LogoutByAccessToken describes the logoutbyaccesstoken operation and its observable behavior.
//
// LogoutByAccessToken may return an error when input validation, dependency calls, or security checks fail.
// LogoutByAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutByAccessToken(ctx context.Context, tokenStr string) error {
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "invalid_access_token",
			}
		})
		return ErrTokenInvalid
	}

	return e.Logout(ctx, claims.SID)
}

// LogoutByRefreshToken describes the logoutbyrefreshtoken operation and its observable behavior.
//
// LogoutByRefreshToken revokes the session behind a refresh token without
// requiring a valid access token, which is what a browser logout with only
// the refresh cookie needs. The secret half of the token is not verified;
// revocation of a guessed session ID is harmless.
//
// LogoutByRefreshToken may return an error when input validation, dependency calls, or security checks fail.
// LogoutByRefreshToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutByRefreshToken(ctx context.Context, refreshToken string) error {
	sessionID, _, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return ErrRefreshInvalid
	}

	return e.Logout(ctx, sessionID)
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll revokes every active session of a user, for password changes
// and account-compromise response.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	err := e.sessionStore.RevokeAllForUser(ctx, userID)
	if err != nil {
		e.metricInc(MetricStoreError)
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return &StorageError{Op: "revoke_all", Err: err}
	}

	e.metricInc(MetricLogoutAll)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, nil)
	return nil
}
