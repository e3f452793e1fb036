package sessionauth

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with hs256 key",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "hs256 without key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 without keys",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = nil
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "zero access ttl",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "grace window zero",
			mutate: func(c *Config) {
				c.Refresh.GraceWindow = 0
			},
			wantValid: false,
		},
		{
			name: "idempotency window below grace",
			mutate: func(c *Config) {
				c.Refresh.GraceWindow = time.Minute
				c.Refresh.IdempotencyWindow = 59 * time.Second
			},
			wantValid: true,
		},
		{
			name: "idempotency window equals grace",
			mutate: func(c *Config) {
				c.Refresh.GraceWindow = time.Minute
				c.Refresh.IdempotencyWindow = time.Minute
			},
			wantValid: false,
		},
		{
			name: "idempotency window above grace",
			mutate: func(c *Config) {
				c.Refresh.GraceWindow = 30 * time.Second
				c.Refresh.IdempotencyWindow = time.Minute
			},
			wantValid: false,
		},
		{
			name: "idempotency window zero disables replay",
			mutate: func(c *Config) {
				c.Refresh.IdempotencyWindow = 0
			},
			wantValid: true,
		},
		{
			name: "grace window exceeds refresh ttl",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = 10 * time.Second
				c.Refresh.GraceWindow = time.Minute
				c.Refresh.IdempotencyWindow = 0
			},
			wantValid: false,
		},
		{
			name: "weak argon2 memory",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "production caps access ttl",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.JWT.AccessTTL = time.Hour
			},
			wantValid: false,
		},
		{
			name: "production rejects short hs256 key",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "production caps grace window",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Refresh.GraceWindow = 10 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "production requires secure cookies",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Security.RequireSecureCookies = false
			},
			wantValid: false,
		},
		{
			name: "refresh throttle without budget",
			mutate: func(c *Config) {
				c.Security.EnableRefreshThrottle = true
				c.Security.MaxRefreshAttempts = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}
