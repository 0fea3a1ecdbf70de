// Command pjutsauth-loadtest drives the engine's Redis-backed paths under
// concurrency and logs latency percentiles per phase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/memstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type options struct {
	users       int
	codes       int
	concurrency int
	ops         int
	redisAddr   string
}

// phase is one measured workload. op runs once per operation on a worker's
// private rand source.
type phase struct {
	name string
	op   func(ctx context.Context, r *rand.Rand) error
}

type phaseResult struct {
	elapsed  time.Duration
	samples  []time.Duration
	failures int64
}

func main() {
	var opts options
	flag.IntVar(&opts.users, "users", 10000, "distinct emails used by the pin phase")
	flag.IntVar(&opts.codes, "codes", 500, "share codes to seed")
	flag.IntVar(&opts.concurrency, "concurrency", 128, "concurrent workers")
	flag.IntVar(&opts.ops, "ops", 50000, "operations per phase")
	flag.StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
	flag.Parse()

	logger := zap.NewExample()
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("loadtest_failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	if opts.users <= 0 || opts.codes <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return errors.New("users, codes, concurrency and ops must be > 0")
	}

	client, closeRedis, err := dialRedis(opts.redisAddr, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store := memstore.New()
	shareCodes, err := seedShareCodes(ctx, store, opts.codes)
	if err != nil {
		return fmt.Errorf("seed share codes: %w", err)
	}

	cfg := pjutsauth.DefaultConfig()
	cfg.Verification.PrivateKey = []byte("pjutsauth-loadtest-signing-key-0123456789")
	cfg.Password.Memory, cfg.Password.Time, cfg.Password.Parallelism = 8*1024, 1, 1
	cfg.RateLimit.Search = pjutsauth.RateTier{Limit: 1 << 30, Window: time.Minute}

	engine, err := pjutsauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithRepository(store).
		WithLogger(zap.NewNop()).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	phases := []phase{
		{"pin_challenge_verify", func(ctx context.Context, r *rand.Rand) error {
			email := fmt.Sprintf("load-%d@pjuts.test", r.Intn(opts.users))
			ch, err := engine.CreatePinChallenge(ctx, email)
			if err != nil {
				return err
			}
			_, err = engine.VerifyPinChallenge(ctx, email, ch.PIN, ch.SessionToken)
			return err
		}},
		{"share_access", func(ctx context.Context, r *rand.Rand) error {
			_, err := engine.CheckShareAccess(ctx, shareCodes[r.Intn(len(shareCodes))])
			return err
		}},
		{"rate_limit", func(ctx context.Context, r *rand.Rand) error {
			ip := fmt.Sprintf("10.0.%d.%d", r.Intn(256), r.Intn(256))
			return engine.AllowRequest(ctx, pjutsauth.TierSearch, "search", ip)
		}},
	}

	for _, p := range phases {
		res := drive(ctx, opts.ops, opts.concurrency, p.op)
		report(logger, p.name, res)
	}
	return nil
}

func dialRedis(addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info("redis", zap.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("redis", zap.String("addr", mr.Addr()), zap.Bool("miniredis", true))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seedShareCodes(ctx context.Context, store *memstore.Store, n int) ([]string, error) {
	now := time.Now()
	codes := make([]string, 0, n)
	for i := range n {
		code := fmt.Sprintf("LOAD-%05d", i)
		if err := store.CreateShareCode(ctx, pjutsauth.ShareCode{
			ID:        uuid.NewString(),
			Code:      code,
			Label:     "load test",
			IsActive:  true,
			CreatedBy: "loadtest",
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// drive runs op ops times spread across workers pulling from a shared
// cursor. Each worker records into its own slice; they are merged at the end.
func drive(ctx context.Context, ops, workers int, op func(context.Context, *rand.Rand) error) phaseResult {
	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		failures atomic.Int64
	)
	perWorker := make([][]time.Duration, workers)

	start := time.Now()
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(start.UnixNano() ^ int64(w+1)*7919))
			local := make([]time.Duration, 0, ops/workers+1)
			for next.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(ctx, r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			perWorker[w] = local
		}()
	}
	wg.Wait()

	res := phaseResult{elapsed: time.Since(start), failures: failures.Load()}
	res.samples = slices.Concat(perWorker...)
	slices.Sort(res.samples)
	return res
}

// percentile expects sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	p = min(max(p, 0), 100)
	return sorted[(len(sorted)-1)*p/100]
}

func report(logger *zap.Logger, name string, res phaseResult) {
	rate := 0.0
	if res.elapsed > 0 {
		rate = float64(len(res.samples)) / res.elapsed.Seconds()
	}
	logger.Info("phase",
		zap.String("name", name),
		zap.Int("ops", len(res.samples)),
		zap.Int64("failures", res.failures),
		zap.Duration("elapsed", res.elapsed.Round(time.Millisecond)),
		zap.Float64("ops_per_sec", rate),
		zap.Duration("p50", percentile(res.samples, 50)),
		zap.Duration("p95", percentile(res.samples, 95)),
		zap.Duration("p99", percentile(res.samples, 99)),
	)
}
