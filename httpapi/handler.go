package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	sessionauth "github.com/bingeworks/sessionauth"
)

// CookieName is the refresh-token cookie attached by the login and refresh
// handlers and cleared by logout.
const CookieName = "refresh-token"

// Options defines a public type used by sessionauth APIs.
//
// Options instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Options struct {
	// DevMode drops the Secure cookie attribute so the flows work over
	// plain http://localhost. Never enable it in a deployed environment.
	DevMode bool

	// ProductionMode tightens the cookie to SameSite=Strict. Outside
	// production the cookie uses SameSite=Lax so local cross-port
	// frontends keep working.
	ProductionMode bool

	// RefreshTTL bounds the cookie lifetime. It should match the engine's
	// session TTL; zero yields a session cookie.
	RefreshTTL time.Duration

	// CookiePath defaults to "/".
	CookiePath string
}

// Handler defines a public type used by sessionauth APIs.
//
// Handler instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Handler struct {
	engine *sessionauth.Engine
	opts   Options
}

// NewHandler describes the newhandler operation and its observable behavior.
//
// NewHandler may return an error when input validation, dependency calls, or security checks fail.
// NewHandler does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewHandler(engine *sessionauth.Engine, opts Options) *Handler {
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	return &Handler{engine: engine, opts: opts}
}

// Mount registers the user-facing auth routes on the given mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /users/login", h.Login)
	mux.HandleFunc("POST /users/refresh-token", h.Refresh)
	mux.HandleFunc("POST /users/logout", h.Logout)
	mux.HandleFunc("GET /users/me", h.CurrentUser)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ctx := requestContext(r)
	result, err := h.engine.Login(ctx, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, sessionauth.ErrLoginRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, sessionauth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, &sessionauth.StorageError{}):
			writeError(w, http.StatusInternalServerError, "session store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken})
}

// Refresh describes the refresh operation and its observable behavior.
//
// A token the store no longer recognizes clears the cookie along with the
// 401, so a broken client stops retrying a dead credential.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	ctx := requestContext(r)
	result, err := h.engine.Refresh(ctx, cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, sessionauth.ErrRefreshRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many refresh attempts")
		case errors.Is(err, &sessionauth.StaleRetryError{}):
			// The client raced itself and lost; its newer token is still
			// good, so keep the cookie.
			writeError(w, http.StatusUnauthorized, "stale refresh token, retry with the newer token")
		case errors.Is(err, sessionauth.ErrRefreshInvalid),
			errors.Is(err, sessionauth.ErrRefreshReuse),
			errors.Is(err, sessionauth.ErrSessionNotFound):
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, &sessionauth.StorageError{}):
			writeError(w, http.StatusInternalServerError, "session store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken})
}

// Logout describes the logout operation and its observable behavior.
//
// Logout always answers 204 and clears the cookie, even when there was no
// cookie or the session was already gone.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		// Best effort: a store outage must not keep the user logged in
		// client-side.
		_ = h.engine.LogoutByRefreshToken(requestContext(r), cookie.Value)
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type currentUserResponse struct {
	UserID     string `json:"userId"`
	Identifier string `json:"identifier"`
}

// CurrentUser describes the currentuser operation and its observable behavior.
//
// CurrentUser may return an error when input validation, dependency calls, or security checks fail.
// CurrentUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	user, err := h.engine.CurrentUser(requestContext(r), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	writeJSON(w, http.StatusOK, currentUserResponse{
		UserID:     user.UserID,
		Identifier: user.Identifier,
	})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     h.opts.CookiePath,
		HttpOnly: true,
		Secure:   !h.opts.DevMode,
		SameSite: http.SameSiteLaxMode,
	}
	if h.opts.ProductionMode {
		cookie.SameSite = http.SameSiteStrictMode
	}
	if h.opts.RefreshTTL > 0 {
		cookie.MaxAge = int(h.opts.RefreshTTL / time.Second)
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     h.opts.CookiePath,
		HttpOnly: true,
		Secure:   !h.opts.DevMode,
		MaxAge:   -1,
	})
}

// requestContext tags the request context with client IP and user agent so
// the engine's audit events carry them.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		ctx = sessionauth.WithClientIP(ctx, host)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = sessionauth.WithUserAgent(ctx, ua)
	}
	return ctx
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
