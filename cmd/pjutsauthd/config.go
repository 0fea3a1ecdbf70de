package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/mailer"
	"github.com/pjuts-monitor/pjutsauth/postgres"
	"gopkg.in/yaml.v3"
)

// daemonConfig is everything main needs to assemble the process.
type daemonConfig struct {
	Environment string
	LogLevel    string
	DevMode     bool

	Addr              string
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64
	Burst             int

	SentryDSN string

	DatabaseURL string
	Pool        postgres.PoolConfig
	PurgeEvery  time.Duration

	RedisURL string

	// SMTP is used when SMTP.Host is set; otherwise reset links go to the log.
	SMTP mailer.SMTPConfig

	// AdminTokens maps a bearer token to the admin email it authenticates.
	AdminTokens map[string]string

	DevUserEmail    string
	DevUserPassword string

	MetricsLogEvery time.Duration

	Engine pjutsauth.Config
}

/*
====================================
CONFIG FILE
====================================
*/

// fileConfig is the optional YAML document named by PJUTS_CONFIG_FILE.
// Missing keys keep their defaults.
type fileConfig struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	DevMode     bool   `yaml:"dev_mode"`

	HTTP struct {
		Addr              string        `yaml:"addr"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"http"`

	Database struct {
		MaxConns        int32         `yaml:"max_conns"`
		MinConns        int32         `yaml:"min_conns"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
		MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
		PurgeInterval   time.Duration `yaml:"purge_interval"`
	} `yaml:"database"`

	SMTP struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		From        string        `yaml:"from"`
		ImplicitTLS bool          `yaml:"implicit_tls"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"smtp"`

	PinChallenge struct {
		Digits      int           `yaml:"digits"`
		TTL         time.Duration `yaml:"ttl"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"pin_challenge"`

	Verification struct {
		TTL             time.Duration `yaml:"ttl"`
		Issuer          string        `yaml:"issuer"`
		Audience        string        `yaml:"audience"`
		StrictSingleUse bool          `yaml:"strict_single_use"`
	} `yaml:"verification"`

	PasswordReset struct {
		TokenTTL        time.Duration `yaml:"token_ttl"`
		ResetURL        string        `yaml:"reset_url"`
		MinResponseTime time.Duration `yaml:"min_response_time"`
	} `yaml:"password_reset"`

	ShareCode struct {
		GeneratedLength int           `yaml:"generated_length"`
		CookieName      string        `yaml:"cookie_name"`
		CookieMaxAge    time.Duration `yaml:"cookie_max_age"`
		CookieSecure    bool          `yaml:"cookie_secure"`
		CookieSameSite  string        `yaml:"cookie_same_site"`
	} `yaml:"share_code"`

	RateLimit map[string]rateTierYAML `yaml:"rate_limit"`

	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
	} `yaml:"audit"`

	Metrics struct {
		Enabled           bool          `yaml:"enabled"`
		LatencyHistograms bool          `yaml:"latency_histograms"`
		LogInterval       time.Duration `yaml:"log_interval"`
	} `yaml:"metrics"`
}

type rateTierYAML struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Environment:     "development",
		LogLevel:        "info",
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
		Pool: postgres.PoolConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 10 * time.Minute,
		},
		PurgeEvery: time.Hour,
		SMTP:       mailer.SMTPConfig{Port: 587},
		Engine:     pjutsauth.DefaultConfig(),
	}
}

// fileFrom seeds a fileConfig with cfg so absent YAML keys are no-ops.
func fileFrom(cfg daemonConfig) fileConfig {
	var f fileConfig
	f.Environment = cfg.Environment
	f.LogLevel = cfg.LogLevel
	f.DevMode = cfg.DevMode

	f.HTTP.Addr = cfg.Addr
	f.HTTP.ShutdownTimeout = cfg.ShutdownTimeout
	f.HTTP.RequestsPerSecond = cfg.RequestsPerSecond
	f.HTTP.Burst = cfg.Burst

	f.Database.MaxConns = cfg.Pool.MaxConns
	f.Database.MinConns = cfg.Pool.MinConns
	f.Database.MaxConnLifetime = cfg.Pool.MaxConnLifetime
	f.Database.MaxConnIdleTime = cfg.Pool.MaxConnIdleTime
	f.Database.PurgeInterval = cfg.PurgeEvery

	f.SMTP.Host = cfg.SMTP.Host
	f.SMTP.Port = cfg.SMTP.Port
	f.SMTP.From = cfg.SMTP.From
	f.SMTP.ImplicitTLS = cfg.SMTP.ImplicitTLS
	f.SMTP.Timeout = cfg.SMTP.Timeout

	e := cfg.Engine
	f.PinChallenge.Digits = e.PinChallenge.Digits
	f.PinChallenge.TTL = e.PinChallenge.TTL
	f.PinChallenge.MaxAttempts = e.PinChallenge.MaxAttempts

	f.Verification.TTL = e.Verification.TTL
	f.Verification.Issuer = e.Verification.Issuer
	f.Verification.Audience = e.Verification.Audience
	f.Verification.StrictSingleUse = e.Verification.StrictSingleUse

	f.PasswordReset.TokenTTL = e.PasswordReset.TokenTTL
	f.PasswordReset.ResetURL = e.PasswordReset.ResetURL
	f.PasswordReset.MinResponseTime = e.PasswordReset.MinResponseTime

	f.ShareCode.GeneratedLength = e.ShareCode.GeneratedLength
	f.ShareCode.CookieName = e.ShareCode.CookieName
	f.ShareCode.CookieMaxAge = e.ShareCode.CookieMaxAge
	f.ShareCode.CookieSecure = e.ShareCode.CookieSecure
	f.ShareCode.CookieSameSite = sameSiteName(e.ShareCode.CookieSameSite)

	f.Audit.Enabled = e.Audit.Enabled
	f.Audit.BufferSize = e.Audit.BufferSize

	f.Metrics.Enabled = e.Metrics.Enabled
	f.Metrics.LatencyHistograms = e.Metrics.EnableLatencyHistograms
	f.Metrics.LogInterval = cfg.MetricsLogEvery
	return f
}

func (f fileConfig) apply(cfg *daemonConfig) error {
	cfg.Environment = f.Environment
	cfg.LogLevel = f.LogLevel
	cfg.DevMode = f.DevMode

	cfg.Addr = f.HTTP.Addr
	cfg.ShutdownTimeout = f.HTTP.ShutdownTimeout
	cfg.RequestsPerSecond = f.HTTP.RequestsPerSecond
	cfg.Burst = f.HTTP.Burst

	cfg.Pool = postgres.PoolConfig{
		MaxConns:        f.Database.MaxConns,
		MinConns:        f.Database.MinConns,
		MaxConnLifetime: f.Database.MaxConnLifetime,
		MaxConnIdleTime: f.Database.MaxConnIdleTime,
	}
	cfg.PurgeEvery = f.Database.PurgeInterval

	cfg.SMTP.Host = f.SMTP.Host
	cfg.SMTP.Port = f.SMTP.Port
	cfg.SMTP.From = f.SMTP.From
	cfg.SMTP.ImplicitTLS = f.SMTP.ImplicitTLS
	cfg.SMTP.Timeout = f.SMTP.Timeout

	e := &cfg.Engine
	e.PinChallenge.Digits = f.PinChallenge.Digits
	e.PinChallenge.TTL = f.PinChallenge.TTL
	e.PinChallenge.MaxAttempts = f.PinChallenge.MaxAttempts

	e.Verification.TTL = f.Verification.TTL
	e.Verification.Issuer = f.Verification.Issuer
	e.Verification.Audience = f.Verification.Audience
	e.Verification.StrictSingleUse = f.Verification.StrictSingleUse

	e.PasswordReset.TokenTTL = f.PasswordReset.TokenTTL
	e.PasswordReset.ResetURL = f.PasswordReset.ResetURL
	e.PasswordReset.MinResponseTime = f.PasswordReset.MinResponseTime

	e.ShareCode.GeneratedLength = f.ShareCode.GeneratedLength
	e.ShareCode.CookieName = f.ShareCode.CookieName
	e.ShareCode.CookieMaxAge = f.ShareCode.CookieMaxAge
	e.ShareCode.CookieSecure = f.ShareCode.CookieSecure
	sameSite, err := parseSameSite(f.ShareCode.CookieSameSite)
	if err != nil {
		return err
	}
	e.ShareCode.CookieSameSite = sameSite

	for name, t := range f.RateLimit {
		tier, err := rateTierByName(&e.RateLimit, name)
		if err != nil {
			return err
		}
		if t.Limit > 0 {
			tier.Limit = t.Limit
		}
		if t.Window > 0 {
			tier.Window = t.Window
		}
	}

	e.Audit.Enabled = f.Audit.Enabled
	e.Audit.BufferSize = f.Audit.BufferSize

	e.Metrics.Enabled = f.Metrics.Enabled
	e.Metrics.EnableLatencyHistograms = f.Metrics.LatencyHistograms
	cfg.MetricsLogEvery = f.Metrics.LogInterval
	return nil
}

func rateTierByName(rl *pjutsauth.RateLimitConfig, name string) (*pjutsauth.RateTier, error) {
	switch strings.ToLower(name) {
	case "standard":
		return &rl.Standard, nil
	case "search":
		return &rl.Search, nil
	case "sensitive":
		return &rl.Sensitive, nil
	case "login":
		return &rl.Login, nil
	case "share_code_verify":
		return &rl.ShareCodeVerify, nil
	case "password_reset_request":
		return &rl.PasswordResetRequest, nil
	default:
		return nil, fmt.Errorf("unknown rate_limit tier %q", name)
	}
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unknown cookie_same_site %q", v)
	}
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return "lax"
	}
}

/*
====================================
LOADING
====================================
*/

// loadConfig builds the daemon config from defaults, the optional YAML file
// and then the environment. getenv is os.Getenv outside tests.
func loadConfig(getenv func(string) string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	env := envReader{getenv: getenv}

	if path := env.str("PJUTS_CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		f := fileFrom(cfg)
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		if err := f.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
	}

	cfg.Environment = env.str("APP_ENV", cfg.Environment)
	cfg.LogLevel = env.str("LOG_LEVEL", cfg.LogLevel)
	cfg.DevMode = env.boolean("PJUTS_DEV_MODE", cfg.DevMode)
	if port := env.str("PORT", ""); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.Addr = env.str("PJUTS_HTTP_ADDR", cfg.Addr)
	cfg.RequestsPerSecond = env.float("PJUTS_HTTP_RPS", cfg.RequestsPerSecond)
	cfg.Burst = env.integer("PJUTS_HTTP_BURST", cfg.Burst)
	cfg.SentryDSN = env.str("SENTRY_DSN", "")

	cfg.SMTP.Host = env.str("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = env.integer("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = env.str("SMTP_USERNAME", "")
	cfg.SMTP.Password = env.str("SMTP_PASSWORD", "")
	cfg.SMTP.From = env.str("SMTP_FROM", cfg.SMTP.From)

	cfg.Engine.PasswordReset.ResetURL = env.str("PJUTS_RESET_URL", cfg.Engine.PasswordReset.ResetURL)
	cfg.Engine.ShareCode.CookieSecure = env.boolean("PJUTS_COOKIE_SECURE", cfg.Engine.ShareCode.CookieSecure)
	cfg.Engine.Audit.Enabled = env.boolean("PJUTS_AUDIT_ENABLED", cfg.Engine.Audit.Enabled)
	cfg.Engine.Metrics.Enabled = env.boolean("PJUTS_METRICS_ENABLED", cfg.Engine.Metrics.Enabled)

	tokens, err := parseAdminTokens(env.str("PJUTS_ADMIN_TOKENS", ""))
	if err != nil {
		return cfg, err
	}
	cfg.AdminTokens = tokens

	// Secrets. Dev mode runs without external services and may generate its
	// own verification key.
	if cfg.DevMode {
		cfg.DatabaseURL = env.str("DATABASE_URL", "")
		cfg.RedisURL = env.str("REDIS_URL", "")
		cfg.DevUserEmail = env.str("PJUTS_DEV_USER_EMAIL", "admin@pjuts.local")
		cfg.DevUserPassword = env.str("PJUTS_DEV_USER_PASSWORD", "")
	} else {
		if cfg.DatabaseURL, err = requireEnv(getenv, "DATABASE_URL"); err != nil {
			return cfg, err
		}
		if cfg.RedisURL, err = requireEnv(getenv, "REDIS_URL"); err != nil {
			return cfg, err
		}
	}

	if secret := env.str("PJUTS_VERIFICATION_SECRET", ""); secret != "" {
		cfg.Engine.Verification.PrivateKey = []byte(secret)
	} else if !cfg.DevMode {
		return cfg, errors.New("missing required env: PJUTS_VERIFICATION_SECRET")
	}

	return cfg, nil
}

// parseAdminTokens reads "email=token" pairs separated by commas.
func parseAdminTokens(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, token, ok := strings.Cut(pair, "=")
		email, token = strings.TrimSpace(email), strings.TrimSpace(token)
		if !ok || email == "" || token == "" {
			return nil, fmt.Errorf("PJUTS_ADMIN_TOKENS: malformed entry %q", email)
		}
		out[token] = strings.ToLower(email)
	}
	return out, nil
}

func requireEnv(getenv func(string) string, name string) (string, error) {
	value := strings.TrimSpace(getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

type envReader struct {
	getenv func(string) string
}

func (e envReader) str(name, fallback string) string {
	value := strings.TrimSpace(e.getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e envReader) integer(name string, fallback int) int {
	parsed, err := strconv.Atoi(e.str(name, ""))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (e envReader) float(name string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(e.str(name, ""), 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (e envReader) boolean(name string, fallback bool) bool {
	parsed, err := strconv.ParseBool(e.str(name, ""))
	if err != nil {
		return fallback
	}
	return parsed
}
