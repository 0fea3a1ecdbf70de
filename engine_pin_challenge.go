package pjutsauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth/internal"
	"github.com/pjuts-monitor/pjutsauth/internal/stores"
)

// RequestPinChallenge runs the password step for email and, on success,
// issues a PIN challenge that supersedes any live one for the same email.
//
// Errors: *ValidationError, ErrInvalidCredentials, ErrAccountDisabled,
// *RateLimitError, ErrUnavailable.
func (e *Engine) RequestPinChallenge(ctx context.Context, email, pw string) (*PinChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	details := map[string]string{}
	if !validEmail(email) {
		details["email"] = "must be a valid email address"
	}
	if pw == "" {
		details["password"] = "is required"
	} else if len(pw) > e.config.Password.MaxPasswordBytes {
		details["password"] = "is too long"
	}
	if len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	if _, err := e.verifyCredentials(ctx, email, pw); err != nil {
		e.metricInc(MetricPinChallengeRejected)
		e.emitAudit(ctx, auditEventPinChallengeRejected, false, email, err, nil)
		return nil, err
	}

	return e.CreatePinChallenge(ctx, email)
}

// CreatePinChallenge issues a PIN and session token for email without a
// password check. The caller must already have authenticated email.
func (e *Engine) CreatePinChallenge(ctx context.Context, email string) (*PinChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, newValidationError("email", "must be a valid email address")
	}

	pin, err := internal.NewPIN(e.config.PinChallenge.Digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sessionToken, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()
	ttl := e.config.PinChallenge.TTL
	expiresAt := now.Add(ttl)
	record := &stores.PinChallenge{
		Email:            email,
		SessionTokenHash: internal.HashSecret(sessionToken),
		PINHash:          pinDigest(sessionToken, pin),
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        expiresAt.UnixMilli(),
		MaxAttempts:      uint16(e.config.PinChallenge.MaxAttempts),
	}
	if err := e.pinStore.Save(ctx, record, now); err != nil {
		e.unavailable(ctx, "pin challenge save failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricPinChallengeIssued)
	e.emitAudit(ctx, auditEventPinChallengeIssued, true, email, nil, nil)

	return &PinChallenge{
		PIN:          pin,
		SessionToken: sessionToken,
		ExpiresIn:    ttl,
		ExpiresAt:    expiresAt,
	}, nil
}

// VerifyPinChallenge checks pin against the live challenge for email bound to
// sessionToken. A correct PIN consumes the challenge and returns a
// verification token; the challenge can never be verified twice.
//
// Malformed input never fails validation here. A PIN of the wrong shape is a
// wrong PIN and spends an attempt; an email or session token that no
// challenge could carry is an unknown session.
//
// Errors: ErrInvalidSession, ErrPinExpired, ErrPinMaxAttempts, ErrInvalidPin,
// ErrUnavailable.
func (e *Engine) VerifyPinChallenge(ctx context.Context, email, pin, sessionToken string) (*PinVerification, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	pin = strings.TrimSpace(pin)

	var err error
	if !validEmail(email) || sessionToken == "" || len(sessionToken) > maxSessionTokenLen {
		err = ErrInvalidSession
	} else if _, verr := e.pinStore.Verify(ctx, email, internal.HashSecret(sessionToken), pinDigest(sessionToken, pin), e.now()); verr != nil {
		err = e.mapPinError(ctx, verr)
	}
	if err != nil {
		e.metricInc(MetricPinVerifyFailure)
		e.emitAudit(ctx, auditEventPinVerifyFailure, false, email, err, nil)
		return nil, err
	}

	token, claims, err := e.verifier.Issue(email)
	if err != nil {
		// The challenge is already consumed; the user must start over.
		e.unavailable(ctx, "verification token issue failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricPinVerifySuccess)
	e.emitAudit(ctx, auditEventPinVerifySuccess, true, email, nil, nil)

	return &PinVerification{
		VerificationToken: token,
		Email:             email,
		ExpiresAt:         claims.ExpiresAt.Time,
	}, nil
}

func (e *Engine) mapPinError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, stores.ErrPinChallengeNotFound):
		return ErrInvalidSession
	case errors.Is(err, stores.ErrPinChallengeExpired):
		e.metricInc(MetricPinExpired)
		return ErrPinExpired
	case errors.Is(err, stores.ErrPinChallengeExceeded):
		e.metricInc(MetricPinAttemptsExceeded)
		return ErrPinMaxAttempts
	case errors.Is(err, stores.ErrPinChallengeMismatch):
		return ErrInvalidPin
	default:
		e.unavailable(ctx, "pin challenge verify failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// maxSessionTokenLen bounds what is hashed for a lookup; issued tokens are 43
// characters.
const maxSessionTokenLen = 128

// pinDigest binds the PIN to its session token.
func pinDigest(sessionToken, pin string) [32]byte {
	return internal.HashSecret(sessionToken + ":" + pin)
}

// expiresIn is the remaining lifetime at now, floored at zero.
func expiresIn(at, now time.Time) time.Duration {
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
