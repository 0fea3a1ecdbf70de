package pjutsauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
)

func issueVerificationToken(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	ctx := context.Background()
	ch, err := env.engine.CreatePinChallenge(ctx, email)
	if err != nil {
		t.Fatalf("CreatePinChallenge: %v", err)
	}
	res, err := env.engine.VerifyPinChallenge(ctx, email, ch.PIN, ch.SessionToken)
	if err != nil {
		t.Fatalf("VerifyPinChallenge: %v", err)
	}
	return res.VerificationToken
}

func TestConsumeVerificationTokenOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := issueVerificationToken(t, env, "a@pjuts.test")

	id, err := env.engine.ConsumeVerificationToken(ctx, token)
	if err != nil {
		t.Fatalf("ConsumeVerificationToken: %v", err)
	}
	if id.Email != "a@pjuts.test" || id.TokenID == "" {
		t.Fatalf("unexpected identity %+v", id)
	}

	_, err = env.engine.ConsumeVerificationToken(ctx, token)
	expectCode(t, err, pjutsauth.CodeVerificationTokenReplayed)

	if env.engine.MetricsSnapshot().Counters[pjutsauth.MetricVerificationReplayDetected] != 1 {
		t.Fatal("expected replay metric")
	}
}

func TestConsumeVerificationTokenExpired(t *testing.T) {
	env := newTestEnv(t)
	token := issueVerificationToken(t, env, "a@pjuts.test")

	env.clock.Advance(31 * time.Second)
	_, err := env.engine.ConsumeVerificationToken(context.Background(), token)
	expectCode(t, err, pjutsauth.CodeInvalidVerificationToken)
}

func TestConsumeVerificationTokenGarbage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.ConsumeVerificationToken(ctx, "not.a.jwt")
	expectCode(t, err, pjutsauth.CodeInvalidVerificationToken)

	_, err = env.engine.ConsumeVerificationToken(ctx, "  ")
	expectCode(t, err, pjutsauth.CodeValidation)
}

func TestConsumeVerificationTokenWithoutReplayStore(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.StrictSingleUse = false
	env := newTestEnvWithConfig(t, cfg)
	ctx := context.Background()
	token := issueVerificationToken(t, env, "a@pjuts.test")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ConsumeVerificationToken(ctx, token); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
}
