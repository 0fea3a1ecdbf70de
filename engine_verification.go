package pjutsauth

import (
	"context"
	"fmt"
	"strings"
)

// ConsumeVerificationToken validates a token minted by VerifyPinChallenge and,
// with Verification.StrictSingleUse, accepts each token ID exactly once.
// The session layer calls this before issuing a login session.
func (e *Engine) ConsumeVerificationToken(ctx context.Context, token string) (*VerifiedIdentity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newValidationError("verificationToken", "is required")
	}

	claims, err := e.verifier.Parse(token)
	if err != nil {
		e.metricInc(MetricVerificationInvalid)
		return nil, ErrVerificationTokenInvalid
	}

	if e.replay != nil {
		first, err := e.replay.MarkUsed(ctx, claims.ID, expiresIn(claims.ExpiresAt.Time, e.now()))
		if err != nil {
			e.unavailable(ctx, "verification replay check failed", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !first {
			e.metricInc(MetricVerificationReplayDetected)
			e.emitAudit(ctx, auditEventVerificationTokenReplay, false, claims.Email, ErrVerificationTokenReplayed, nil)
			return nil, ErrVerificationTokenReplayed
		}
	}

	e.metricInc(MetricVerificationConsumed)
	e.emitAudit(ctx, auditEventVerificationTokenConsumed, true, claims.Email, nil, nil)

	identity := &VerifiedIdentity{
		Email:     claims.Email,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	return identity, nil
}
