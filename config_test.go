package pjutsauth

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Verification.PrivateKey = []byte(strings.Repeat("k", 32))
	return cfg
}

func TestDefaultConfigNeedsOnlyKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without key to fail")
	}

	cfg = validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pin digits low", func(c *Config) { c.PinChallenge.Digits = 3 }, "Digits"},
		{"pin digits high", func(c *Config) { c.PinChallenge.Digits = 11 }, "Digits"},
		{"pin ttl", func(c *Config) { c.PinChallenge.TTL = 0 }, "PinChallenge TTL"},
		{"pin attempts", func(c *Config) { c.PinChallenge.MaxAttempts = 0 }, "MaxAttempts"},
		{"verification ttl", func(c *Config) { c.Verification.TTL = time.Minute }, "Verification TTL"},
		{"short hs256 key", func(c *Config) { c.Verification.PrivateKey = []byte("short") }, "hs256"},
		{"ed25519 without public key", func(c *Config) { c.Verification.SigningMethod = "ed25519" }, "ed25519"},
		{"unknown signing", func(c *Config) { c.Verification.SigningMethod = "rs256" }, "signing method"},
		{"argon memory", func(c *Config) { c.Password.Memory = 1024 }, "Memory"},
		{"min length", func(c *Config) { c.Password.MinLength = 6 }, "MinLength"},
		{"reset ttl", func(c *Config) { c.PasswordReset.TokenTTL = 0 }, "TokenTTL"},
		{"reset url", func(c *Config) { c.PasswordReset.ResetURL = "/reset" }, "ResetURL"},
		{"reset padding", func(c *Config) { c.PasswordReset.MinResponseTime = 10 * time.Second }, "MinResponseTime"},
		{"share code length", func(c *Config) { c.ShareCode.GeneratedLength = 4 }, "GeneratedLength"},
		{"cookie name", func(c *Config) { c.ShareCode.CookieName = "" }, "CookieName"},
		{"login tier", func(c *Config) { c.RateLimit.Login.Limit = 0 }, "Login"},
		{"sensitive window", func(c *Config) { c.RateLimit.Sensitive.Window = 0 }, "Sensitive"},
		{"audit buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }, "BufferSize"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)
	cfg.Verification.PrivateKey[0] = 'x'

	if clone.Verification.PrivateKey[0] != 'k' {
		t.Fatal("expected cloned key to be independent of the original")
	}
}
