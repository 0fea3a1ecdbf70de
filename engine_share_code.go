package pjutsauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pjuts-monitor/pjutsauth/internal"
	"github.com/pjuts-monitor/pjutsauth/internal/rate"
	"go.uber.org/zap"
)

const (
	minShareCodeLength = 4
	maxShareCodeLength = 32
	maxShareCodeLabel  = 100

	shareCodeGenerateAttempts = 3
)

// NormalizeShareCode trims and upper-cases a submitted code.
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// shareCodeShapeOK accepts A-Z, 0-9 and '-' once normalized.
func shareCodeShapeOK(code string) bool {
	if len(code) < minShareCodeLength || len(code) > maxShareCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// ValidateShareCode checks a code submitted by an anonymous viewer. Failures
// count against the caller's IP (see [WithClientIP]); a valid code records
// usage as a side effect. The caller sets the access cookie on success.
//
// Errors: *ValidationError, ErrShareCodeInvalid, ErrShareCodeExpired,
// *RateLimitError, ErrUnavailable.
func (e *Engine) ValidateShareCode(ctx context.Context, code string) (*ShareCode, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	code = NormalizeShareCode(code)
	if code == "" {
		return nil, newValidationError("code", "is required")
	}

	identity := clientIPFromContext(ctx)
	if identity == "" {
		identity = "unknown"
	}
	key := rate.Key(actionShareCode, identity)
	verifyTier := e.config.RateLimit.ShareCodeVerify

	decision, err := e.limiter.Check(ctx, key, verifyTier.policy())
	if err != nil {
		e.unavailable(ctx, "share code limiter check failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		e.metricInc(MetricShareCodeRateLimited)
		e.emitRateLimit(ctx, actionShareCode, "")
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	sc, err := e.findValidShareCode(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			e.recordFailure(ctx, key, verifyTier)
			e.metricInc(MetricShareCodeInvalid)
		}
		e.emitAudit(ctx, auditEventShareCodeVerify, false, "", err, nil)
		return nil, err
	}

	now := e.now()
	if err := e.shareCodes.RecordShareCodeUse(ctx, sc.Code, now); err != nil {
		e.logger.Warn("share code usage update failed", zap.String("share_code_id", sc.ID), zap.Error(err))
	} else {
		sc.UsageCount++
		sc.LastUsedAt = &now
	}

	e.metricInc(MetricShareCodeValid)
	e.emitAudit(ctx, auditEventShareCodeVerify, true, "", nil, func() map[string]string {
		return map[string]string{"share_code_id": sc.ID}
	})
	return sc, nil
}

// CheckShareAccess re-validates the code held in a viewer's cookie. It is
// read-only and not rate limited, so deactivation or expiry takes effect on
// the next request.
//
// Errors: ErrShareCodeInvalid, ErrShareCodeExpired, ErrUnavailable.
func (e *Engine) CheckShareAccess(ctx context.Context, code string) (*ShareCode, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.findValidShareCode(ctx, NormalizeShareCode(code))
}

func (e *Engine) findValidShareCode(ctx context.Context, code string) (*ShareCode, error) {
	if !shareCodeShapeOK(code) {
		return nil, ErrShareCodeInvalid
	}
	sc, err := e.shareCodes.FindShareCode(ctx, code)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrShareCodeInvalid
	}
	if err != nil {
		e.unavailable(ctx, "share code lookup failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !sc.IsActive {
		return nil, ErrShareCodeInvalid
	}
	if !sc.ValidAt(e.now()) {
		return nil, ErrShareCodeExpired
	}
	return sc, nil
}

/*
====================================
ADMIN OPERATIONS
====================================
*/

func (e *Engine) authorizeAdmin(ctx context.Context, p Principal) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !p.IsAdmin() {
		e.emitAudit(ctx, auditEventShareCodeAdmin, false, p.ID, ErrForbidden, nil)
		return ErrForbidden
	}
	return e.allow(ctx, rate.Key(actionAdminShareCode, p.ID), e.config.RateLimit.Sensitive)
}

// ListShareCodes returns every share code, newest first.
func (e *Engine) ListShareCodes(ctx context.Context, p Principal) ([]ShareCode, error) {
	if err := e.authorizeAdmin(ctx, p); err != nil {
		return nil, err
	}
	codes, err := e.shareCodes.ListShareCodes(ctx)
	if err != nil {
		e.unavailable(ctx, "share code list failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return codes, nil
}

// CreateShareCode stores a new active share code. With an empty in.Code a
// code of ShareCode.GeneratedLength characters is generated.
//
// Errors: ErrForbidden, *RateLimitError, *ValidationError,
// ErrShareCodeExists, ErrUnavailable.
func (e *Engine) CreateShareCode(ctx context.Context, p Principal, in CreateShareCodeInput) (*ShareCode, error) {
	if err := e.authorizeAdmin(ctx, p); err != nil {
		return nil, err
	}

	now := e.now()
	label := strings.TrimSpace(in.Label)
	details := map[string]string{}
	if label == "" {
		details["label"] = "is required"
	} else if utf8.RuneCountInString(label) > maxShareCodeLabel {
		details["label"] = fmt.Sprintf("must be at most %d characters", maxShareCodeLabel)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		details["expiresAt"] = "must be in the future"
	}
	code := NormalizeShareCode(in.Code)
	generated := code == ""
	if !generated && !shareCodeShapeOK(code) {
		details["code"] = fmt.Sprintf("must be %d-%d characters of A-Z, 0-9 or '-'", minShareCodeLength, maxShareCodeLength)
	}
	if len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	sc := ShareCode{
		Label:     label,
		IsActive:  true,
		CreatedBy: p.ID,
		CreatedAt: now,
	}
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC()
		sc.ExpiresAt = &exp
	}

	attempts := 1
	if generated {
		attempts = shareCodeGenerateAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if generated {
			code, err = internal.NewShareCode(e.config.ShareCode.GeneratedLength)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		sc.ID = uuid.NewString()
		sc.Code = code
		err = e.shareCodes.CreateShareCode(ctx, sc)
		if !errors.Is(err, ErrRecordExists) {
			break
		}
	}
	switch {
	case errors.Is(err, ErrRecordExists):
		e.emitAudit(ctx, auditEventShareCodeAdmin, false, p.ID, ErrShareCodeExists, nil)
		return nil, ErrShareCodeExists
	case err != nil:
		e.unavailable(ctx, "share code create failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricShareCodeAdminOp)
	e.emitAudit(ctx, auditEventShareCodeAdmin, true, p.ID, nil, adminMeta("create", sc.ID))
	return &sc, nil
}

// SetShareCodeActive activates or deactivates a code. Deactivation revokes
// every viewer holding it on their next request.
func (e *Engine) SetShareCodeActive(ctx context.Context, p Principal, id string, active bool) (*ShareCode, error) {
	if err := e.authorizeAdmin(ctx, p); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrShareCodeNotFound
	}

	sc, err := e.shareCodes.SetShareCodeActive(ctx, id, active)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrShareCodeNotFound
	}
	if err != nil {
		e.unavailable(ctx, "share code update failed", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	op := "deactivate"
	if active {
		op = "activate"
	}
	e.metricInc(MetricShareCodeAdminOp)
	e.emitAudit(ctx, auditEventShareCodeAdmin, true, p.ID, nil, adminMeta(op, id))
	return sc, nil
}

// DeleteShareCode removes a code permanently.
func (e *Engine) DeleteShareCode(ctx context.Context, p Principal, id string) error {
	if err := e.authorizeAdmin(ctx, p); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrShareCodeNotFound
	}

	err := e.shareCodes.DeleteShareCode(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return ErrShareCodeNotFound
	}
	if err != nil {
		e.unavailable(ctx, "share code delete failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricShareCodeAdminOp)
	e.emitAudit(ctx, auditEventShareCodeAdmin, true, p.ID, nil, adminMeta("delete", id))
	return nil
}

func adminMeta(op, id string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"op": op, "share_code_id": id}
	}
}
