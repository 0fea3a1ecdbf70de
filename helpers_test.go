package pjutsauth_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/memstore"
	"github.com/pjuts-monitor/pjutsauth/password"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-Horse1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingHasher wraps a fast Argon2id hasher and records which hashes
// Verify was asked to compare against.
type countingHasher struct {
	inner    *password.Hasher
	verifies atomic.Int64

	mu       sync.Mutex
	compared []string
}

func newCountingHasher(t *testing.T) *countingHasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return &countingHasher{inner: h}
}

func (h *countingHasher) Hash(pw string) (string, error) {
	return h.inner.Hash(pw)
}

func (h *countingHasher) Verify(pw, encoded string) (bool, error) {
	h.verifies.Add(1)
	h.mu.Lock()
	h.compared = append(h.compared, encoded)
	h.mu.Unlock()
	return h.inner.Verify(pw, encoded)
}

func (h *countingHasher) NeedsRehash(encoded string) (bool, error) {
	return h.inner.NeedsRehash(encoded)
}

func (h *countingHasher) lastCompared() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.compared) == 0 {
		return ""
	}
	return h.compared[len(h.compared)-1]
}

// captureMailer keeps the last reset link per recipient.
type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
	sent  int
	err   error
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{links: map[string]string{}}
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, resetURL string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	m.links[to] = resetURL
	return m.err
}

func (m *captureMailer) token(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	link, ok := m.links[to]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no reset email sent to %s", to)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse reset link: %v", err)
	}
	return u.Query().Get("token")
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type testEnv struct {
	engine *pjutsauth.Engine
	store  *memstore.Store
	redis  *miniredis.Miniredis
	clock  *fakeClock
	hasher *countingHasher
	mailer *captureMailer
	audit  *pjutsauth.ChannelSink
}

func testConfig() pjutsauth.Config {
	cfg := pjutsauth.DefaultConfig()
	cfg.Verification.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MinResponseTime = 0
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg pjutsauth.Config) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	store := memstore.New().WithClock(clock.Now)
	hasher := newCountingHasher(t)
	mailer := newCaptureMailer()
	sink := pjutsauth.NewChannelSink(512)

	engine, err := pjutsauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(store).
		WithPasswordHasher(hasher).
		WithMailer(mailer).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		store:  store,
		redis:  mr,
		clock:  clock,
		hasher: hasher,
		mailer: mailer,
		audit:  sink,
	}
}

func (env *testEnv) addUser(t *testing.T, email string, active bool) string {
	t.Helper()
	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return env.store.AddCredential(email, hash, active)
}

// waitAudit returns the next audit event of the given type or fails.
func (env *testEnv) waitAudit(t *testing.T, eventType string) pjutsauth.AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.audit.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s audit event", eventType)
			return pjutsauth.AuditEvent{}
		}
	}
}

var admin = pjutsauth.Principal{ID: "0b5e3a8e-0000-4000-8000-000000000001", Email: "admin@pjuts.test", Role: pjutsauth.RoleAdmin}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if got := pjutsauth.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}
