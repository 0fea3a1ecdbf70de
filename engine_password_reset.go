package pjutsauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth/internal"
	"github.com/pjuts-monitor/pjutsauth/internal/rate"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a reset token for an active account and emails
// the link. The result is {Success: true} for every input, including unknown
// or inactive emails, rate-limited emails and backend failures, and the call
// takes at least PasswordReset.MinResponseTime.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) ResetRequestResult {
	start := time.Now()
	defer e.padResponse(ctx, start)

	if e.ready() != nil {
		return ResetRequestResult{Success: true}
	}

	email = normalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)

	issued, err := e.issueResetToken(ctx, email)
	if err != nil {
		e.unavailable(ctx, "password reset request failed", err)
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, issued, email, err, nil)

	return ResetRequestResult{Success: true}
}

func (e *Engine) issueResetToken(ctx context.Context, email string) (bool, error) {
	if !validEmail(email) {
		return false, nil
	}

	decision, err := e.limiter.Allow(ctx, rate.Key(actionPasswordReset, email), e.config.RateLimit.PasswordResetRequest.policy())
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		e.metricInc(MetricPasswordResetRateLimited)
		e.emitRateLimit(ctx, actionPasswordReset, email)
		return false, nil
	}

	cred, err := e.credentials.FindCredentialByEmail(ctx, email)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cred.IsActive {
		return false, nil
	}

	token, err := internal.NewResetToken()
	if err != nil {
		return false, err
	}
	expiresAt := e.now().Add(e.config.PasswordReset.TokenTTL)
	if err := e.resetTokens.ReplaceResetToken(ctx, email, internal.HashSecretHex(token), expiresAt); err != nil {
		return false, err
	}

	if err := e.mailer.SendPasswordReset(ctx, email, e.resetLink(token), expiresAt); err != nil {
		e.metricInc(MetricPasswordResetEmailFailure)
		e.logger.Warn("password reset email failed", zap.String("credential_id", cred.ID), zap.Error(err))
	}
	return true, nil
}

func (e *Engine) resetLink(token string) string {
	u, err := url.Parse(e.config.PasswordReset.ResetURL)
	if err != nil {
		return e.config.PasswordReset.ResetURL + "?token=" + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Engine) padResponse(ctx context.Context, start time.Time) {
	if e == nil {
		return
	}
	remaining := e.config.PasswordReset.MinResponseTime - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// ResetPassword consumes token and sets newPassword on the owning account.
// Shape and policy are checked before any store access. The token delete and
// the hash update happen in one store transaction.
//
// Errors: *ValidationError (wrapping ErrPasswordPolicy for policy failures),
// ErrResetTokenInvalid, ErrResetTokenExpired, ErrUnavailable.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	token = strings.ToLower(strings.TrimSpace(token))
	verr := &ValidationError{Details: map[string]string{}}
	if !internal.IsResetTokenShape(token) {
		verr.Details["token"] = "must be 64 hex characters"
	}
	if len(newPassword) > e.config.Password.MaxPasswordBytes {
		verr.Details["newPassword"] = "is too long"
		verr.Cause = ErrPasswordPolicy
	} else if err := e.policy.Check(newPassword); err != nil {
		verr.Details["newPassword"] = err.Error()
		verr.Cause = ErrPasswordPolicy
	}
	if len(verr.Details) > 0 {
		return verr
	}

	err := e.resetPassword(ctx, token, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
	} else {
		e.metricInc(MetricPasswordResetSuccess)
	}
	e.emitAudit(ctx, auditEventPasswordResetConfirm, err == nil, "", err, nil)
	return err
}

func (e *Engine) resetPassword(ctx context.Context, token, newPassword string) error {
	tokenHash := internal.HashSecretHex(token)
	record, err := e.lookupResetToken(ctx, tokenHash, true)
	if err != nil {
		return err
	}

	cred, err := e.credentials.FindCredentialByEmail(ctx, record.Email)
	if errors.Is(err, ErrRecordNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		e.unavailable(ctx, "reset credential lookup failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.resetTokens.ConsumeResetToken(ctx, tokenHash, cred.ID, newHash); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrResetTokenInvalid
		}
		e.unavailable(ctx, "reset token consume failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Lockouts from before the reset no longer apply.
	if err := e.limiter.Reset(ctx, rate.Key(actionLogin, record.Email)); err != nil {
		e.unavailable(ctx, "login limiter reset failed", err)
	}
	return nil
}

// ValidateResetToken reports whether token could currently be used, without
// changing anything.
//
// Errors: *ValidationError, ErrResetTokenInvalid, ErrResetTokenExpired,
// ErrUnavailable.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	token = strings.ToLower(strings.TrimSpace(token))
	if !internal.IsResetTokenShape(token) {
		return newValidationError("token", "must be 64 hex characters")
	}
	_, err := e.lookupResetToken(ctx, internal.HashSecretHex(token), false)
	return err
}

// lookupResetToken loads a live token. An expired token is reported as
// ErrResetTokenExpired and, when purge is set, deleted.
func (e *Engine) lookupResetToken(ctx context.Context, tokenHash string, purge bool) (*ResetToken, error) {
	record, err := e.resetTokens.FindResetToken(ctx, tokenHash)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrResetTokenInvalid
	}
	if err != nil {
		e.unavailable(ctx, "reset token lookup failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !e.now().Before(record.ExpiresAt) {
		if purge {
			if err := e.resetTokens.DeleteResetToken(ctx, tokenHash); err != nil && !errors.Is(err, ErrRecordNotFound) {
				e.unavailable(ctx, "expired reset token delete failed", err)
			}
		}
		e.metricInc(MetricPasswordResetExpired)
		return nil, ErrResetTokenExpired
	}
	return record, nil
}
