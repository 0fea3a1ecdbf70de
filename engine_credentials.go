package pjutsauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pjuts-monitor/pjutsauth/internal/rate"
	"go.uber.org/zap"
)

// verifyCredentials is the password step. Exactly one hash comparison runs on
// every path that reaches the store, and on the rate-limited path as well:
// against the stored hash of an active account, the dummy hash otherwise.
// Callers must pass a normalized email.
func (e *Engine) verifyCredentials(ctx context.Context, email, pw string) (*Credential, error) {
	key := rate.Key(actionLogin, email)
	loginTier := e.config.RateLimit.Login

	decision, err := e.limiter.Check(ctx, key, loginTier.policy())
	if err != nil {
		e.compareDummy(pw)
		e.unavailable(ctx, "login limiter check failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		e.compareDummy(pw)
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, actionLogin, email)
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	cred, lookupErr := e.credentials.FindCredentialByEmail(ctx, email)
	if lookupErr != nil {
		cred = nil
	}

	// Absent and inactive accounts both compare against the dummy hash.
	usable := cred != nil && cred.IsActive
	hash := e.dummyHash
	if usable {
		hash = cred.PasswordHash
	}

	start := time.Now()
	ok, verifyErr := e.hasher.Verify(pw, hash)
	e.metricObserve(MetricCredentialCheckLatency, time.Since(start))

	// Branch on the account only after the comparison.
	if lookupErr != nil && !errors.Is(lookupErr, ErrRecordNotFound) {
		e.unavailable(ctx, "credential lookup failed", lookupErr)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, lookupErr)
	}
	if cred != nil && !cred.IsActive {
		e.recordFailure(ctx, key, loginTier)
		e.metricInc(MetricAccountDisabled)
		return nil, ErrAccountDisabled
	}
	if !usable || !ok {
		if verifyErr != nil && usable {
			// Corrupt stored hash: same answer as a wrong password.
			e.logger.Warn("stored password hash unreadable", zap.String("credential_id", cred.ID), zap.Error(verifyErr))
		}
		e.recordFailure(ctx, key, loginTier)
		return nil, ErrInvalidCredentials
	}

	if err := e.limiter.Reset(ctx, key); err != nil {
		e.unavailable(ctx, "login limiter reset failed", err)
	}
	e.upgradeHash(ctx, cred, pw)

	return cred, nil
}

func (e *Engine) compareDummy(pw string) {
	start := time.Now()
	_, _ = e.hasher.Verify(pw, e.dummyHash)
	e.metricObserve(MetricCredentialCheckLatency, time.Since(start))
}

// upgradeHash rewrites legacy or under-cost hashes after a successful login.
// Failures are logged and never affect the login.
func (e *Engine) upgradeHash(ctx context.Context, cred *Credential, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(cred.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("credential_id", cred.ID), zap.Error(err))
		return
	}
	if err := e.credentials.UpdatePasswordHash(ctx, cred.ID, newHash); err != nil {
		e.logger.Warn("password rehash store failed", zap.String("credential_id", cred.ID), zap.Error(err))
		return
	}
	cred.PasswordHash = newHash
}
