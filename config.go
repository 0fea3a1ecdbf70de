package pjutsauth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth/jwt"
	"github.com/pjuts-monitor/pjutsauth/password"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override fields; the Builder validates and copies it once at Build time.
type Config struct {
	PinChallenge  PinChallengeConfig
	Verification  VerificationConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	ShareCode     ShareCodeConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
PIN CHALLENGE CONFIG
====================================
*/

type PinChallengeConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

/*
====================================
VERIFICATION TOKEN CONFIG
====================================
*/

// VerificationConfig controls the token minted after a correct PIN.
type VerificationConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string

	// StrictSingleUse records each consumed token ID in Redis until the
	// token's expiry and rejects a second presentation.
	StrictSingleUse bool
	ReplayPrefix    string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	MinLength        int
	UpgradeOnLogin   bool
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

type PasswordResetConfig struct {
	TokenTTL time.Duration
	// ResetURL is the page the emailed link points at; the token is added as
	// the "token" query parameter.
	ResetURL string
	// MinResponseTime pads RequestPasswordReset so known and unknown emails
	// take the same wall time.
	MinResponseTime time.Duration
}

/*
====================================
SHARE CODE CONFIG
====================================
*/

type ShareCodeConfig struct {
	GeneratedLength int
	CookieName      string
	CookieMaxAge    time.Duration
	CookieSecure    bool
	CookieSameSite  http.SameSite
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateTier is a fixed-window budget: Limit requests per Window.
type RateTier struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	RedisPrefix string

	// Generic endpoint tiers.
	Standard  RateTier
	Search    RateTier
	Sensitive RateTier

	// Flow budgets. Admin share-code operations use Sensitive.
	Login                RateTier
	ShareCodeVerify      RateTier
	PasswordResetRequest RateTier
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Verification keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		PinChallenge: PinChallengeConfig{
			Digits:      6,
			TTL:         120 * time.Second,
			MaxAttempts: 3,
			RedisPrefix: "ppc",
		},
		Verification: VerificationConfig{
			TTL:             30 * time.Second,
			SigningMethod:   "hs256",
			Issuer:          "pjuts-auth",
			StrictSingleUse: true,
			ReplayPrefix:    "pvr",
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: password.DefaultMaxPasswordBytes,
			MinLength:        8,
			UpgradeOnLogin:   true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:        time.Hour,
			ResetURL:        "http://localhost:3000/reset-password",
			MinResponseTime: 250 * time.Millisecond,
		},
		ShareCode: ShareCodeConfig{
			GeneratedLength: 8,
			CookieName:      "pjuts-share-access",
			CookieMaxAge:    7 * 24 * time.Hour,
			CookieSecure:    true,
			CookieSameSite:  http.SameSiteLaxMode,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:          "rl",
			Standard:             RateTier{Limit: 60, Window: time.Minute},
			Search:               RateTier{Limit: 100, Window: time.Minute},
			Sensitive:            RateTier{Limit: 30, Window: time.Minute},
			Login:                RateTier{Limit: 5, Window: 15 * time.Minute},
			ShareCodeVerify:      RateTier{Limit: 10, Window: 15 * time.Minute},
			PasswordResetRequest: RateTier{Limit: 5, Window: time.Hour},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Verification.PrivateKey = cloneBytes(cfg.Verification.PrivateKey)
	out.Verification.PublicKey = cloneBytes(cfg.Verification.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// PIN challenge
	if c.PinChallenge.Digits < 4 || c.PinChallenge.Digits > 10 {
		return errors.New("PinChallenge Digits must be between 4 and 10")
	}
	if c.PinChallenge.TTL <= 0 {
		return errors.New("PinChallenge TTL must be > 0")
	}
	if c.PinChallenge.MaxAttempts < 1 || c.PinChallenge.MaxAttempts > 10 {
		return errors.New("PinChallenge MaxAttempts must be between 1 and 10")
	}

	// Verification token
	if c.Verification.TTL <= 0 || c.Verification.TTL > jwt.MaxTTL {
		return fmt.Errorf("Verification TTL must be in (0, %s]", jwt.MaxTTL)
	}
	switch c.Verification.SigningMethod {
	case "hs256":
		if len(c.Verification.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Verification.PrivateKey) == 0 || len(c.Verification.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Verification signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.MinResponseTime < 0 || c.PasswordReset.MinResponseTime > 5*time.Second {
		return errors.New("PasswordReset MinResponseTime must be between 0 and 5s")
	}
	u, err := url.Parse(c.PasswordReset.ResetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PasswordReset ResetURL must be an absolute URL")
	}

	// Share codes
	if c.ShareCode.GeneratedLength < 6 || c.ShareCode.GeneratedLength > 32 {
		return errors.New("ShareCode GeneratedLength must be between 6 and 32")
	}
	if strings.TrimSpace(c.ShareCode.CookieName) == "" {
		return errors.New("ShareCode CookieName must be set")
	}
	if c.ShareCode.CookieMaxAge <= 0 {
		return errors.New("ShareCode CookieMaxAge must be > 0")
	}

	// Rate limits
	tiers := []struct {
		name string
		tier RateTier
	}{
		{"Standard", c.RateLimit.Standard},
		{"Search", c.RateLimit.Search},
		{"Sensitive", c.RateLimit.Sensitive},
		{"Login", c.RateLimit.Login},
		{"ShareCodeVerify", c.RateLimit.ShareCodeVerify},
		{"PasswordResetRequest", c.RateLimit.PasswordResetRequest},
	}
	for _, t := range tiers {
		if t.tier.Limit <= 0 || t.tier.Window <= 0 {
			return fmt.Errorf("RateLimit %s requires Limit > 0 and Window > 0", t.name)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
