package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testChallenge(email, token, pin string, now time.Time, maxAttempts uint16) *PinChallenge {
	return &PinChallenge{
		Email:            email,
		SessionTokenHash: sha256.Sum256([]byte(token)),
		PINHash:          sha256.Sum256([]byte(pin)),
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(120 * time.Second).UnixMilli(),
		MaxAttempts:      maxAttempts,
	}
}

func TestPinChallengeEncodeDecode(t *testing.T) {
	now := time.Now()
	in := testChallenge("user@x.test", "tok", "123456", now, 3)
	in.Attempts = 2

	data, err := encodePinChallenge(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodePinChallenge(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("decoded record mismatch: %+v vs %+v", out, in)
	}

	data[0] = 9
	if _, err := decodePinChallenge(data); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

func TestPinChallengeVerifySuccessIsSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()

	if err := s.Save(ctx, testChallenge("a@x.test", "tok", "111111", now, 3), now); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := s.Verify(ctx, "a@x.test", sha256.Sum256([]byte("tok")), sha256.Sum256([]byte("111111")), now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rec.Email != "a@x.test" {
		t.Fatalf("unexpected email %q", rec.Email)
	}

	_, err = s.Verify(ctx, "a@x.test", sha256.Sum256([]byte("tok")), sha256.Sum256([]byte("111111")), now)
	if !errors.Is(err, ErrPinChallengeNotFound) {
		t.Fatalf("expected not found after success, got %v", err)
	}
}

func TestPinChallengeSaveSupersedesPrior(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()

	if err := s.Save(ctx, testChallenge("b@x.test", "old", "111111", now, 3), now); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := s.Save(ctx, testChallenge("b@x.test", "new", "222222", now, 3), now); err != nil {
		t.Fatalf("save new: %v", err)
	}

	_, err := s.Verify(ctx, "b@x.test", sha256.Sum256([]byte("old")), sha256.Sum256([]byte("111111")), now)
	if !errors.Is(err, ErrPinChallengeNotFound) {
		t.Fatalf("expected superseded session to be gone, got %v", err)
	}
	if _, err := s.Verify(ctx, "b@x.test", sha256.Sum256([]byte("new")), sha256.Sum256([]byte("222222")), now); err != nil {
		t.Fatalf("expected new session to verify: %v", err)
	}
}

func TestPinChallengeTokenMismatchLeavesRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()

	if err := s.Save(ctx, testChallenge("c@x.test", "tok", "111111", now, 3), now); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := s.Verify(ctx, "c@x.test", sha256.Sum256([]byte("other")), sha256.Sum256([]byte("000000")), now)
	if !errors.Is(err, ErrPinChallengeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rec, err := s.Get(ctx, "c@x.test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Attempts != 0 {
		t.Fatalf("token mismatch must not count an attempt, got %d", rec.Attempts)
	}
}

func TestPinChallengeExpiredIsDeleted(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()

	if err := s.Save(ctx, testChallenge("d@x.test", "tok", "111111", now, 3), now); err != nil {
		t.Fatalf("save: %v", err)
	}

	later := now.Add(121 * time.Second)
	_, err := s.Verify(ctx, "d@x.test", sha256.Sum256([]byte("tok")), sha256.Sum256([]byte("111111")), later)
	if !errors.Is(err, ErrPinChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := s.Get(ctx, "d@x.test"); !errors.Is(err, ErrPinChallengeNotFound) {
		t.Fatalf("expected expired record deleted, got %v", err)
	}
}

func TestPinChallengeAttemptCap(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()
	tok := sha256.Sum256([]byte("tok"))
	wrong := sha256.Sum256([]byte("999999"))

	if err := s.Save(ctx, testChallenge("e@x.test", "tok", "111111", now, 3), now); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Verify(ctx, "e@x.test", tok, wrong, now); !errors.Is(err, ErrPinChallengeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}
	if _, err := s.Verify(ctx, "e@x.test", tok, wrong, now); !errors.Is(err, ErrPinChallengeExceeded) {
		t.Fatalf("expected exceeded on the capping attempt, got %v", err)
	}
	if _, err := s.Get(ctx, "e@x.test"); !errors.Is(err, ErrPinChallengeNotFound) {
		t.Fatalf("expected capped record deleted, got %v", err)
	}
}

func TestPinChallengeConcurrentWrongGuessesAreAllCounted(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPinChallengeStore(rdb, "ppc")
	ctx := context.Background()
	now := time.Now()
	tok := sha256.Sum256([]byte("tok"))
	wrong := sha256.Sum256([]byte("999999"))

	if err := s.Save(ctx, testChallenge("f@x.test", "tok", "111111", now, 10), now); err != nil {
		t.Fatalf("save: %v", err)
	}

	const guesses = 4
	var wg sync.WaitGroup
	errs := make(chan error, guesses)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Verify(ctx, "f@x.test", tok, wrong, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrPinChallengeMismatch) {
			t.Fatalf("expected mismatch from every guess, got %v", err)
		}
	}

	rec, err := s.Get(ctx, "f@x.test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Attempts != guesses {
		t.Fatalf("expected %d counted attempts, got %d", guesses, rec.Attempts)
	}
}

func TestVerificationReplayMarkUsedOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewVerificationReplayStore(rdb, "pvr")
	ctx := context.Background()

	first, err := s.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !first {
		t.Fatal("expected first mark to win")
	}
	second, err := s.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if second {
		t.Fatal("expected replayed jti to be rejected")
	}

	mr.FastForward(31 * time.Second)
	again, err := s.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !again {
		t.Fatal("expected entry to age out with the token lifetime")
	}
}
