package pjutsauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/internal"
)

func createCode(t *testing.T, env *testEnv, in pjutsauth.CreateShareCodeInput) *pjutsauth.ShareCode {
	t.Helper()
	sc, err := env.engine.CreateShareCode(context.Background(), admin, in)
	if err != nil {
		t.Fatalf("CreateShareCode: %v", err)
	}
	return sc
}

func TestValidateShareCode(t *testing.T) {
	env := newTestEnv(t)
	sc := createCode(t, env, pjutsauth.CreateShareCodeInput{Code: "field-team-7", Label: "Field team"})
	if sc.Code != "FIELD-TEAM-7" || !sc.IsActive {
		t.Fatalf("unexpected created code %+v", sc)
	}

	ctx := pjutsauth.WithClientIP(context.Background(), "203.0.113.9")
	got, err := env.engine.ValidateShareCode(ctx, "  field-team-7 ")
	if err != nil {
		t.Fatalf("ValidateShareCode: %v", err)
	}
	if got.ID != sc.ID || got.UsageCount != 1 || got.LastUsedAt == nil {
		t.Fatalf("expected usage recorded, got %+v", got)
	}

	_, err = env.engine.ValidateShareCode(ctx, "NOPE-1234")
	expectCode(t, err, pjutsauth.CodeInvalidShareCode)

	_, err = env.engine.ValidateShareCode(ctx, "")
	expectCode(t, err, pjutsauth.CodeValidation)
}

func TestShareCodeExpiry(t *testing.T) {
	env := newTestEnv(t)
	exp := env.clock.Now().Add(time.Hour)
	createCode(t, env, pjutsauth.CreateShareCodeInput{Code: "TEMP-0001", Label: "Visit", ExpiresAt: &exp})
	ctx := context.Background()

	env.clock.Advance(time.Hour)
	if _, err := env.engine.CheckShareAccess(ctx, "TEMP-0001"); err != nil {
		t.Fatalf("expected code valid at its expiry instant, got %v", err)
	}

	env.clock.Advance(time.Second)
	_, err := env.engine.ValidateShareCode(ctx, "TEMP-0001")
	expectCode(t, err, pjutsauth.CodeShareCodeExpired)
	_, err = env.engine.CheckShareAccess(ctx, "temp-0001")
	expectCode(t, err, pjutsauth.CodeShareCodeExpired)
}

func TestDeactivatedCodeRevokesAccess(t *testing.T) {
	env := newTestEnv(t)
	sc := createCode(t, env, pjutsauth.CreateShareCodeInput{Label: "Press"})
	ctx := context.Background()

	if len(sc.Code) != 8 || strings.Trim(sc.Code, internal.ShareCodeAlphabet) != "" {
		t.Fatalf("unexpected generated code %q", sc.Code)
	}
	if _, err := env.engine.CheckShareAccess(ctx, sc.Code); err != nil {
		t.Fatalf("expected access, got %v", err)
	}

	updated, err := env.engine.SetShareCodeActive(ctx, admin, sc.ID, false)
	if err != nil || updated.IsActive {
		t.Fatalf("deactivate: %+v %v", updated, err)
	}
	_, err = env.engine.CheckShareAccess(ctx, sc.Code)
	expectCode(t, err, pjutsauth.CodeInvalidShareCode)

	if _, err := env.engine.SetShareCodeActive(ctx, admin, sc.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := env.engine.CheckShareAccess(ctx, sc.Code); err != nil {
		t.Fatalf("expected access restored, got %v", err)
	}

	if err := env.engine.DeleteShareCode(ctx, admin, sc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.engine.CheckShareAccess(ctx, sc.Code)
	expectCode(t, err, pjutsauth.CodeInvalidShareCode)
}

func TestShareCodeVerifyRateLimitPerIP(t *testing.T) {
	env := newTestEnv(t)
	createCode(t, env, pjutsauth.CreateShareCodeInput{Code: "GOOD-CODE", Label: "ok"})
	attacker := pjutsauth.WithClientIP(context.Background(), "192.0.2.66")
	viewer := pjutsauth.WithClientIP(context.Background(), "192.0.2.10")

	for i := 0; i < 10; i++ {
		_, err := env.engine.ValidateShareCode(attacker, "WRONG-CODE")
		expectCode(t, err, pjutsauth.CodeInvalidShareCode)
	}
	_, err := env.engine.ValidateShareCode(attacker, "GOOD-CODE")
	var rl *pjutsauth.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	if _, err := env.engine.ValidateShareCode(viewer, "GOOD-CODE"); err != nil {
		t.Fatalf("expected other IP unaffected, got %v", err)
	}
}

func TestShareCodeSuccessDoesNotCountAgainstIP(t *testing.T) {
	env := newTestEnv(t)
	createCode(t, env, pjutsauth.CreateShareCodeInput{Code: "GOOD-CODE", Label: "ok"})
	ctx := pjutsauth.WithClientIP(context.Background(), "192.0.2.10")

	for i := 0; i < 25; i++ {
		if _, err := env.engine.ValidateShareCode(ctx, "GOOD-CODE"); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
}

func TestShareCodeAdminAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := pjutsauth.Principal{ID: "u-1", Email: "viewer@pjuts.test", Role: pjutsauth.RoleUser}

	_, err := env.engine.ListShareCodes(ctx, user)
	expectCode(t, err, pjutsauth.CodeForbidden)
	_, err = env.engine.CreateShareCode(ctx, user, pjutsauth.CreateShareCodeInput{Label: "x"})
	expectCode(t, err, pjutsauth.CodeForbidden)
	_, err = env.engine.SetShareCodeActive(ctx, pjutsauth.Principal{Role: pjutsauth.RoleAdmin}, "id", false)
	expectCode(t, err, pjutsauth.CodeForbidden)
}

func TestShareCodeAdminErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createCode(t, env, pjutsauth.CreateShareCodeInput{Code: "DUPE-2024", Label: "first"})

	_, err := env.engine.CreateShareCode(ctx, admin, pjutsauth.CreateShareCodeInput{Code: "dupe-2024", Label: "second"})
	expectCode(t, err, pjutsauth.CodeShareCodeExists)

	past := env.clock.Now().Add(-time.Minute)
	_, err = env.engine.CreateShareCode(ctx, admin, pjutsauth.CreateShareCodeInput{Label: "", Code: "a b", ExpiresAt: &past})
	var verr *pjutsauth.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"label", "code", "expiresAt"} {
		if verr.Details[field] == "" {
			t.Fatalf("expected %s detail, got %v", field, verr.Details)
		}
	}

	_, err = env.engine.CreateShareCode(ctx, admin, pjutsauth.CreateShareCodeInput{Label: strings.Repeat("x", 101)})
	expectCode(t, err, pjutsauth.CodeValidation)

	_, err = env.engine.SetShareCodeActive(ctx, admin, "not-a-uuid", true)
	expectCode(t, err, pjutsauth.CodeNotFound)
	err = env.engine.DeleteShareCode(ctx, admin, "5f0c6a8e-1111-4222-8333-444444444444")
	expectCode(t, err, pjutsauth.CodeNotFound)
}

func TestListShareCodesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, code := range []string{"AAAA-1", "BBBB-2", "CCCC-3"} {
		createCode(t, env, pjutsauth.CreateShareCodeInput{Code: code, Label: code})
		env.clock.Advance(time.Minute)
	}

	list, err := env.engine.ListShareCodes(ctx, admin)
	if err != nil {
		t.Fatalf("ListShareCodes: %v", err)
	}
	if len(list) != 3 || list[0].Code != "CCCC-3" || list[2].Code != "AAAA-1" {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].CreatedBy != admin.ID {
		t.Fatalf("expected CreatedBy recorded, got %q", list[0].CreatedBy)
	}
}

func TestShareCodeAdminRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Sensitive = pjutsauth.RateTier{Limit: 2, Window: time.Minute}
	env := newTestEnvWithConfig(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ListShareCodes(ctx, admin); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	_, err := env.engine.ListShareCodes(ctx, admin)
	expectCode(t, err, pjutsauth.CodeRateLimited)
}
