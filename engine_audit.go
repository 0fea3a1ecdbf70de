package pjutsauth

import (
	"context"
	"errors"
)

const (
	auditEventPinChallengeIssued        = "pin_challenge_issued"
	auditEventPinChallengeRejected      = "pin_challenge_rejected"
	auditEventPinVerifySuccess          = "pin_verify_success"
	auditEventPinVerifyFailure          = "pin_verify_failure"
	auditEventVerificationTokenConsumed = "verification_token_consumed"
	auditEventVerificationTokenReplay   = "verification_token_replay"
	auditEventPasswordResetRequest      = "password_reset_request"
	auditEventPasswordResetConfirm      = "password_reset_confirm"
	auditEventShareCodeVerify           = "share_code_verify"
	auditEventShareCodeAdmin            = "share_code_admin"
	auditEventRateLimitTriggered        = "rate_limit_triggered"
)

// AuditErrorCode is the short, secret-free error label stored on events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidSession     AuditErrorCode = "invalid_session"
	auditErrPinExpired         AuditErrorCode = "pin_expired"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrInvalidPin         AuditErrorCode = "invalid_pin"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenReplay        AuditErrorCode = "token_replay"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrShareCodeInvalid   AuditErrorCode = "share_code_invalid"
	auditErrShareCodeExpired   AuditErrorCode = "share_code_expired"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, subject, ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrInvalidSession):
		return auditErrInvalidSession
	case errors.Is(err, ErrPinExpired):
		return auditErrPinExpired
	case errors.Is(err, ErrPinMaxAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidPin):
		return auditErrInvalidPin
	case errors.Is(err, ErrVerificationTokenReplayed):
		return auditErrTokenReplay
	case errors.Is(err, ErrVerificationTokenInvalid),
		errors.Is(err, ErrResetTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrResetTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrShareCodeInvalid):
		return auditErrShareCodeInvalid
	case errors.Is(err, ErrShareCodeExpired):
		return auditErrShareCodeExpired
	case errors.Is(err, ErrShareCodeNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrShareCodeExists):
		return auditErrDuplicate
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
