package pjutsauth

import (
	"context"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth/internal/rate"
	"github.com/pjuts-monitor/pjutsauth/internal/stores"
	"github.com/pjuts-monitor/pjutsauth/jwt"
	"github.com/pjuts-monitor/pjutsauth/password"
	"go.uber.org/zap"
)

// Engine runs the authentication and share-code flows. Build it with [New].
// All methods are safe for concurrent use.
type Engine struct {
	config Config
	now    func() time.Time
	logger *zap.Logger

	limiter  *rate.Limiter
	pinStore *stores.PinChallengeStore
	replay   *stores.VerificationReplayStore
	verifier *jwt.Manager

	credentials CredentialStore
	resetTokens ResetTokenStore
	shareCodes  ShareCodeStore
	mailer      Mailer

	hasher    PasswordHasher
	policy    password.Policy
	dummyHash string

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes queued audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

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

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) ready() error {
	if e == nil || e.limiter == nil || e.hasher == nil || e.verifier == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) unavailable(ctx context.Context, msg string, err error) {
	e.metricInc(MetricBackendUnavailable)
	e.logger.Warn(msg, zap.Error(err), zap.String("ip", clientIPFromContext(ctx)))
}

// normalizeEmail trims and lowercases. Emails are compared case-insensitively
// everywhere, including rate-limit keys.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail is a shape check only. It must not be stricter than whatever
// created the account.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return false
	}
	return at < len(email)-1
}

// discardMailer is used when no Mailer is configured.
type discardMailer struct {
	logger *zap.Logger
}

func (m discardMailer) SendPasswordReset(_ context.Context, to string, _ string, expiresAt time.Time) error {
	m.logger.Warn("no mailer configured; password reset email not sent",
		zap.Time("expires_at", expiresAt),
		zap.Int("recipient_len", len(to)),
	)
	return nil
}
