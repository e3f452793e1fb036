package httpapi_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	sessionauth "github.com/bingeworks/sessionauth"
	"github.com/bingeworks/sessionauth/httpapi"
	"github.com/bingeworks/sessionauth/password"
)

type stubProvider struct {
	users map[string]sessionauth.UserRecord
}

func (p *stubProvider) GetUserByIdentifier(identifier string) (sessionauth.UserRecord, error) {
	for _, u := range p.users {
		if u.Identifier == identifier {
			return u, nil
		}
	}
	return sessionauth.UserRecord{}, sessionauth.ErrUserNotFound
}

func (p *stubProvider) GetUserByID(userID string) (sessionauth.UserRecord, error) {
	u, ok := p.users[userID]
	if !ok {
		return sessionauth.UserRecord{}, sessionauth.ErrUserNotFound
	}
	return u, nil
}

func testConfig() sessionauth.Config {
	return sessionauth.Config{
		JWT: sessionauth.JWTConfig{
			AccessTTL:     time.Minute,
			RefreshTTL:    24 * time.Hour,
			SigningMethod: "hs256",
			PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
			Issuer:        "httpapi-test",
		},
		Session: sessionauth.SessionConfig{RedisPrefix: "ss"},
		Refresh: sessionauth.RefreshConfig{
			GraceWindow:       30 * time.Second,
			IdempotencyWindow: 10 * time.Second,
		},
		Password: sessionauth.PasswordConfig{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
		Audit: sessionauth.AuditConfig{Enabled: false},
		Security: sessionauth.SecurityConfig{
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   time.Minute,
			MaxRefreshAttempts:      50,
			RefreshCooldownDuration: time.Minute,
			RequireSecureCookies:    false,
		},
	}
}

func newTestServer(t *testing.T, tweak func(*sessionauth.Config)) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if tweak != nil {
		tweak(&cfg)
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	hash, err := hasher.Hash("hunter2-correct")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	provider := &stubProvider{users: map[string]sessionauth.UserRecord{
		"u1": {UserID: "u1", Identifier: "alice", PasswordHash: hash},
	}}

	engine, err := sessionauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	mux := http.NewServeMux()
	httpapi.NewHandler(engine, httpapi.Options{
		DevMode:    true,
		RefreshTTL: cfg.JWT.RefreshTTL,
	}).Mount(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doLogin(t *testing.T, client *http.Client, srv *httptest.Server, username, pass string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": pass})
	resp, err := client.Post(srv.URL+"/users/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	return resp
}

func accessTokenFrom(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out.AccessToken
}

func refreshCookie(t *testing.T, client *http.Client, srv *httptest.Server) *http.Cookie {
	t.Helper()
	u, _ := url.Parse(srv.URL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == httpapi.CookieName {
			return c
		}
	}
	return nil
}

func postRefresh(t *testing.T, srv *httptest.Server, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/users/refresh-token", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh request: %v", err)
	}
	return resp
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	resp := doLogin(t, client, srv, "alice", "hunter2-correct")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if tok := accessTokenFrom(t, resp); tok == "" {
		t.Fatal("empty access token")
	}

	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == httpapi.CookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("refresh cookie not set")
	}
	if !found.HttpOnly {
		t.Error("refresh cookie must be HttpOnly")
	}
	if found.Value == "" {
		t.Error("refresh cookie has empty value")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	resp := doLogin(t, client, srv, "alice", "wrong")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if len(resp.Cookies()) != 0 {
		t.Error("failed login must not set cookies")
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	doLogin(t, client, srv, "alice", "hunter2-correct").Body.Close()
	before := refreshCookie(t, client, srv)
	if before == nil {
		t.Fatal("no cookie after login")
	}

	resp, err := client.Post(srv.URL+"/users/refresh-token", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if tok := accessTokenFrom(t, resp); tok == "" {
		t.Fatal("empty access token after refresh")
	}

	after := refreshCookie(t, client, srv)
	if after == nil || after.Value == before.Value {
		t.Fatal("refresh must rotate the cookie value")
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postRefresh(t, srv, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshReplaysWithinIdempotencyWindow(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	doLogin(t, client, srv, "alice", "hunter2-correct").Body.Close()
	original := refreshCookie(t, client, srv)

	first := postRefresh(t, srv, original)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first refresh status = %d, want 200", first.StatusCode)
	}
	firstAccess := accessTokenFrom(t, first)

	// Same token inside the window gets the original result back.
	replay := postRefresh(t, srv, original)
	if replay.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", replay.StatusCode)
	}
	if got := accessTokenFrom(t, replay); got != firstAccess {
		t.Fatal("replay must return the original access token")
	}
}

func TestStaleRefreshKeepsCookie(t *testing.T) {
	// Zero idempotency window so the second use of the rotated-away token
	// reaches the store and classifies as stale instead of replaying.
	srv := newTestServer(t, func(cfg *sessionauth.Config) {
		cfg.Refresh.IdempotencyWindow = 0
	})
	client := newClient(t)

	doLogin(t, client, srv, "alice", "hunter2-correct").Body.Close()
	original := refreshCookie(t, client, srv)

	postRefresh(t, srv, original).Body.Close()

	resp := postRefresh(t, srv, original)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == httpapi.CookieName && c.MaxAge < 0 {
			t.Fatal("stale retry must not clear the cookie")
		}
	}
}

func TestForgedRefreshRevokesSession(t *testing.T) {
	srv := newTestServer(t, func(cfg *sessionauth.Config) {
		cfg.Refresh.IdempotencyWindow = 0
	})
	client := newClient(t)

	doLogin(t, client, srv, "alice", "hunter2-correct").Body.Close()
	original := refreshCookie(t, client, srv)

	raw, err := base64.RawURLEncoding.DecodeString(original.Value)
	if err != nil {
		t.Fatalf("decode cookie: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	forged := &http.Cookie{Name: httpapi.CookieName, Value: base64.RawURLEncoding.EncodeToString(raw)}

	resp := postRefresh(t, srv, forged)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged refresh status = %d, want 401", resp.StatusCode)
	}

	// Theft detection revoked the session, so the genuine token is dead too.
	resp = postRefresh(t, srv, original)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("genuine refresh after theft status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutAlwaysNoContent(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	// Without any cookie.
	resp, err := client.Post(srv.URL+"/users/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cookieless logout status = %d, want 204", resp.StatusCode)
	}

	doLogin(t, client, srv, "alice", "hunter2-correct").Body.Close()
	original := refreshCookie(t, client, srv)

	resp, err = client.Post(srv.URL+"/users/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}

	// Session is revoked, the old token no longer refreshes.
	resp = postRefresh(t, srv, original)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestCurrentUser(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newClient(t)

	access := accessTokenFrom(t, doLogin(t, client, srv, "alice", "hunter2-correct"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		UserID     string `json:"userId"`
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != "u1" || out.Identifier != "alice" {
		t.Fatalf("unexpected user: %+v", out)
	}

	noAuth, _ := http.NewRequest(http.MethodGet, srv.URL+"/users/me", nil)
	resp2, err := http.DefaultClient.Do(noAuth)
	if err != nil {
		t.Fatalf("me request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp2.StatusCode)
	}
}
