package pjutsauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/pjuts-monitor/pjutsauth/internal"
	"github.com/pjuts-monitor/pjutsauth/internal/rate"
	"github.com/pjuts-monitor/pjutsauth/internal/stores"
	"github.com/pjuts-monitor/pjutsauth/jwt"
	"github.com/pjuts-monitor/pjutsauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	resetTokens ResetTokenStore
	shareCodes  ShareCodeStore
	mailer      Mailer
	hasher      PasswordHasher

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client for rate counters, PIN sessions and the
// verification replay set. Cluster and failover clients are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepository wires one store as credential, reset-token and share-code store.
func (b *Builder) WithRepository(repo Repository) *Builder {
	b.credentials = repo
	b.resetTokens = repo
	b.shareCodes = repo
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithResetTokenStore(store ResetTokenStore) *Builder {
	b.resetTokens = store
	return b
}

func (b *Builder) WithShareCodeStore(store ShareCodeStore) *Builder {
	b.shareCodes = store
	return b
}

// WithMailer sets the reset-link transport. Without one, reset requests are
// accepted and logged but no email leaves the process.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithPasswordHasher overrides the Argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for expiry decisions (PIN sessions, reset
// tokens, share codes, verification tokens). Rate-limit windows follow Redis.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and returns a ready
// Engine. It precomputes the dummy hash used for unknown emails, so it costs
// one password hash.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.resetTokens == nil {
		return nil, errors.New("reset token store required")
	}
	if b.shareCodes == nil {
		return nil, errors.New("share code store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewHasher(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		})
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	// -------- DUMMY HASH --------
	seed, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("dummy hash seed: %w", err)
	}
	dummyHash, err := hasher.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	// -------- VERIFICATION TOKENS --------
	verifier, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Verification.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Verification.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Verification.PrivateKey),
		PublicKey:     cloneBytes(cfg.Verification.PublicKey),
		Issuer:        cfg.Verification.Issuer,
		Audience:      cfg.Verification.Audience,
		KeyID:         cfg.Verification.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = discardMailer{logger: logger}
	}

	policy := password.DefaultPolicy()
	policy.MinLength = cfg.Password.MinLength

	engine := &Engine{
		config:      cfg,
		now:         now,
		logger:      logger.Named("pjutsauth"),
		limiter:     rate.New(b.redis, cfg.RateLimit.RedisPrefix),
		pinStore:    stores.NewPinChallengeStore(b.redis, cfg.PinChallenge.RedisPrefix),
		credentials: b.credentials,
		resetTokens: b.resetTokens,
		shareCodes:  b.shareCodes,
		mailer:      mailer,
		hasher:      hasher,
		policy:      policy,
		dummyHash:   dummyHash,
		verifier:    verifier,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
	}
	if cfg.Verification.StrictSingleUse {
		engine.replay = stores.NewVerificationReplayStore(b.redis, cfg.Verification.ReplayPrefix)
	}

	b.built = true

	return engine, nil
}
