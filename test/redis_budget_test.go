//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts Redis commands and pipeline
// round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

func newCountedEngine(t *testing.T) (*pjutsauth.Engine, *cmdCounter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	counter := &cmdCounter{}
	rdb.AddHook(counter)
	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	engine, _ := newEngine(t, rdb)
	counter.Reset()
	return engine, counter
}

func TestCreatePinChallengeRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)

	if _, err := engine.CreatePinChallenge(context.Background(), testEmail); err != nil {
		t.Fatalf("create: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("CreatePinChallenge used %d Redis commands; budget is 1 (SET)", cmds)
	}
}

func TestRequestPinChallengeRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)

	if _, err := engine.RequestPinChallenge(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("request: %v", err)
	}
	// GET limiter, DEL limiter on success, SET challenge.
	if cmds := counter.Commands(); cmds > 3 {
		t.Errorf("RequestPinChallenge used %d Redis commands; budget is <= 3", cmds)
	}
}

func TestVerifyPinChallengeRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)
	ctx := context.Background()

	ch, err := engine.CreatePinChallenge(ctx, testEmail)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	counter.Reset()

	if _, err := engine.VerifyPinChallenge(ctx, testEmail, ch.PIN, ch.SessionToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// WATCH, GET, one MULTI/DEL/EXEC pipeline, UNWATCH.
	if cmds := counter.Commands(); cmds > 6 {
		t.Errorf("VerifyPinChallenge used %d Redis commands; budget is <= 6", cmds)
	}
	if p := counter.Pipelines(); p > 1 {
		t.Errorf("VerifyPinChallenge used %d pipelines; budget is <= 1", p)
	}
	t.Logf("VerifyPinChallenge: %d commands, %d pipelines", counter.Commands(), counter.Pipelines())
}

func TestAllowRequestRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)
	ctx := context.Background()

	// MULTI, INCR, EXPIRE NX, PTTL, EXEC in a single round trip, first hit or not.
	for i := 0; i < 2; i++ {
		counter.Reset()
		if err := engine.AllowRequest(ctx, pjutsauth.TierStandard, "map", "10.0.0.1"); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if p := counter.Pipelines(); p != 1 {
			t.Errorf("AllowRequest %d used %d pipelines; want 1", i, p)
		}
		if cmds := counter.Commands(); cmds != 5 {
			t.Errorf("AllowRequest %d used %d commands; want 5", i, cmds)
		}
	}
}

func TestConsumeVerificationTokenRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)
	ctx := context.Background()

	ch, err := engine.CreatePinChallenge(ctx, testEmail)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := engine.VerifyPinChallenge(ctx, testEmail, ch.PIN, ch.SessionToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	counter.Reset()

	if _, err := engine.ConsumeVerificationToken(ctx, res.VerificationToken); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("ConsumeVerificationToken used %d commands; want 1 (SET NX)", cmds)
	}
}
