package pjutsauth

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrEngineNotReady is returned when an Engine method runs on a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation marks malformed input rejected before any storage access.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned only after a correct password for an inactive account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrRateLimited is wrapped by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidSession means no live PIN session matches the email and session token.
	ErrInvalidSession = errors.New("invalid pin session")
	// ErrPinExpired means the PIN session outlived its TTL. The session is gone.
	ErrPinExpired = errors.New("pin expired")
	// ErrPinMaxAttempts means the attempt cap was reached. The session is gone.
	ErrPinMaxAttempts = errors.New("pin attempts exceeded")
	// ErrInvalidPin is a wrong PIN below the attempt cap.
	ErrInvalidPin = errors.New("invalid pin")
	// ErrVerificationTokenInvalid covers bad signature, expiry and malformed tokens.
	ErrVerificationTokenInvalid = errors.New("verification token invalid")
	// ErrVerificationTokenReplayed means the token was already consumed once.
	ErrVerificationTokenReplayed = errors.New("verification token already used")
	// ErrResetTokenInvalid does not distinguish never-issued from already-used tokens.
	ErrResetTokenInvalid = errors.New("reset token invalid or already used")
	ErrResetTokenExpired = errors.New("reset token expired")
	ErrPasswordPolicy    = errors.New("password policy violation")
	ErrShareCodeInvalid  = errors.New("share code invalid")
	ErrShareCodeExpired  = errors.New("share code expired")
	// ErrShareCodeNotFound is only returned by administrative operations.
	ErrShareCodeNotFound = errors.New("share code not found")
	ErrShareCodeExists   = errors.New("share code already exists")
	ErrForbidden         = errors.New("forbidden")
	// ErrUnavailable wraps storage, cache and mail transport failures.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrRecordNotFound must be returned (or wrapped) by store implementations for missing rows.
	ErrRecordNotFound = errors.New("record not found")
	// ErrRecordExists must be returned (or wrapped) by store implementations on unique violations.
	ErrRecordExists = errors.New("record already exists")
)

// ValidationError reports malformed input, field by field.
type ValidationError struct {
	Details map[string]string
	Cause   error
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e.Details))
	for f := range e.Details {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	b.WriteString(": ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(" ")
		b.WriteString(e.Details[f])
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// RateLimitError carries the time until the limiting window ends.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ErrorKind is the closed classification of engine failures.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindValidation
	KindAuthentication
	KindRateLimited
	KindExpired
	KindNotFound
	KindForbidden
	KindConflict
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindExpired:
		return "expired"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown non-nil errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrPinExpired),
		errors.Is(err, ErrResetTokenExpired),
		errors.Is(err, ErrShareCodeExpired):
		return KindExpired
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrPinMaxAttempts),
		errors.Is(err, ErrInvalidPin),
		errors.Is(err, ErrVerificationTokenInvalid),
		errors.Is(err, ErrVerificationTokenReplayed),
		errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, ErrShareCodeInvalid):
		return KindAuthentication
	case errors.Is(err, ErrShareCodeNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrShareCodeExists):
		return KindConflict
	default:
		return KindInternal
	}
}

// Wire codes returned by [CodeOf].
const (
	CodeValidation                = "VALIDATION_ERROR"
	CodeInvalidCredentials        = "INVALID_CREDENTIALS"
	CodeAccountDisabled           = "ACCOUNT_DISABLED"
	CodeRateLimited               = "RATE_LIMITED"
	CodeInvalidSession            = "INVALID_SESSION"
	CodePinExpired                = "PIN_EXPIRED"
	CodeMaxAttempts               = "MAX_ATTEMPTS"
	CodeInvalidPin                = "INVALID_PIN"
	CodeInvalidVerificationToken  = "INVALID_VERIFICATION_TOKEN"
	CodeVerificationTokenReplayed = "VERIFICATION_TOKEN_REPLAYED"
	CodeInvalidResetToken         = "INVALID_TOKEN"
	CodeResetTokenExpired         = "TOKEN_EXPIRED"
	CodeInvalidShareCode          = "INVALID_SHARE_CODE"
	CodeShareCodeExpired          = "SHARE_CODE_EXPIRED"
	CodeNotFound                  = "NOT_FOUND"
	CodeShareCodeExists           = "SHARE_CODE_EXISTS"
	CodeForbidden                 = "FORBIDDEN"
	CodeInternal                  = "INTERNAL_ERROR"
)

// CodeOf returns the wire code for err, or "" for nil.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return CodeAccountDisabled
	case errors.Is(err, ErrInvalidSession):
		return CodeInvalidSession
	case errors.Is(err, ErrPinExpired):
		return CodePinExpired
	case errors.Is(err, ErrPinMaxAttempts):
		return CodeMaxAttempts
	case errors.Is(err, ErrInvalidPin):
		return CodeInvalidPin
	case errors.Is(err, ErrVerificationTokenReplayed):
		return CodeVerificationTokenReplayed
	case errors.Is(err, ErrVerificationTokenInvalid):
		return CodeInvalidVerificationToken
	case errors.Is(err, ErrResetTokenExpired):
		return CodeResetTokenExpired
	case errors.Is(err, ErrResetTokenInvalid):
		return CodeInvalidResetToken
	case errors.Is(err, ErrShareCodeExpired):
		return CodeShareCodeExpired
	case errors.Is(err, ErrShareCodeInvalid):
		return CodeInvalidShareCode
	case errors.Is(err, ErrShareCodeNotFound):
		return CodeNotFound
	case errors.Is(err, ErrShareCodeExists):
		return CodeShareCodeExists
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
