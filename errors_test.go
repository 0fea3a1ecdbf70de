package pjutsauth

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindAndCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
		code string
	}{
		{nil, KindNone, ""},
		{newValidationError("email", "is required"), KindValidation, CodeValidation},
		{&ValidationError{Details: map[string]string{"newPassword": "x"}, Cause: ErrPasswordPolicy}, KindValidation, CodeValidation},
		{ErrInvalidCredentials, KindAuthentication, CodeInvalidCredentials},
		{ErrAccountDisabled, KindAuthentication, CodeAccountDisabled},
		{&RateLimitError{RetryAfter: 3 * time.Second}, KindRateLimited, CodeRateLimited},
		{ErrInvalidSession, KindAuthentication, CodeInvalidSession},
		{ErrPinExpired, KindExpired, CodePinExpired},
		{ErrPinMaxAttempts, KindAuthentication, CodeMaxAttempts},
		{ErrInvalidPin, KindAuthentication, CodeInvalidPin},
		{ErrVerificationTokenReplayed, KindAuthentication, CodeVerificationTokenReplayed},
		{ErrResetTokenInvalid, KindAuthentication, CodeInvalidResetToken},
		{ErrResetTokenExpired, KindExpired, CodeResetTokenExpired},
		{ErrShareCodeInvalid, KindAuthentication, CodeInvalidShareCode},
		{ErrShareCodeExpired, KindExpired, CodeShareCodeExpired},
		{ErrShareCodeNotFound, KindNotFound, CodeNotFound},
		{ErrShareCodeExists, KindConflict, CodeShareCodeExists},
		{ErrForbidden, KindForbidden, CodeForbidden},
		{fmt.Errorf("%w: dial tcp", ErrUnavailable), KindInternal, CodeInternal},
		{errors.New("anything else"), KindInternal, CodeInternal},
	}

	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %v, want %v", tc.err, got, tc.kind)
		}
		if got := CodeOf(tc.err); got != tc.code {
			t.Fatalf("CodeOf(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}
}

func TestValidationErrorUnwrapsCause(t *testing.T) {
	err := &ValidationError{Details: map[string]string{"newPassword": "too short"}, Cause: ErrPasswordPolicy}
	if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected both ErrValidation and ErrPasswordPolicy, got %v", err)
	}
	if got := err.Error(); got != "validation failed: newPassword too short" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRateLimitErrorRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		200 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		14 * time.Minute:        840,
	}
	for d, want := range cases {
		err := &RateLimitError{RetryAfter: d}
		if got := err.RetryAfterSeconds(); got != want {
			t.Fatalf("RetryAfterSeconds(%v) = %d, want %d", d, got, want)
		}
	}
}
