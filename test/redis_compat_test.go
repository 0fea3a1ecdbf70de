//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pjuts-monitor/pjutsauth"
)

func TestRedisCompatPinFlow(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, _ := newEngine(t, rdb)
			ctx := context.Background()

			ch, err := engine.RequestPinChallenge(ctx, testEmail, testPassword)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			res, err := engine.VerifyPinChallenge(ctx, testEmail, ch.PIN, ch.SessionToken)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if _, err := engine.VerifyPinChallenge(ctx, testEmail, ch.PIN, ch.SessionToken); !errors.Is(err, pjutsauth.ErrInvalidSession) {
				t.Fatalf("expected consumed session, got %v", err)
			}

			id, err := engine.ConsumeVerificationToken(ctx, res.VerificationToken)
			if err != nil {
				t.Fatalf("consume: %v", err)
			}
			if id.Email != testEmail {
				t.Fatalf("unexpected email %q", id.Email)
			}
			if _, err := engine.ConsumeVerificationToken(ctx, res.VerificationToken); !errors.Is(err, pjutsauth.ErrVerificationTokenReplayed) {
				t.Fatalf("expected replay rejection, got %v", err)
			}
		})
	}
}

// Concurrent correct verifications of one challenge must yield exactly one
// verification token.
func TestRedisCompatPinVerifySingleWinner(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, _ := newEngine(t, rdb)
			ctx := context.Background()

			ch, err := engine.CreatePinChallenge(ctx, testEmail)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			const workers = 16
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := engine.VerifyPinChallenge(ctx, testEmail, ch.PIN, ch.SessionToken); err == nil {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if winners != 1 {
				t.Fatalf("expected exactly one successful verify, got %d", winners)
			}
		})
	}
}

func TestRedisCompatLoginLimiter(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			engine, _ := newEngine(t, rdb)
			ctx := context.Background()

			limit := engine.Config().RateLimit.Login.Limit
			for i := 0; i < limit; i++ {
				if _, err := engine.RequestPinChallenge(ctx, testEmail, "wrong-password"); !errors.Is(err, pjutsauth.ErrInvalidCredentials) {
					t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
				}
			}

			_, err := engine.RequestPinChallenge(ctx, testEmail, testPassword)
			var rl *pjutsauth.RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("expected rate limit after %d failures, got %v", limit, err)
			}
			if rl.RetryAfterSeconds() <= 0 {
				t.Fatalf("expected positive retry-after, got %d", rl.RetryAfterSeconds())
			}
		})
	}
}
