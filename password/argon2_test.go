package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// loginConfig is the cost the monitor deploys with.
func loginConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func cheapConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func mustHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashRoundTrip(t *testing.T) {
	h := mustHasher(t, loginConfig())

	encoded, err := h.Hash("Operator-2026")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected encoding %s", encoded)
	}

	for pw, want := range map[string]bool{"Operator-2026": true, "operator-2026": false, "Operator-2027": false} {
		ok, err := h.Verify(pw, encoded)
		if err != nil {
			t.Fatalf("Verify(%q): %v", pw, err)
		}
		if ok != want {
			t.Fatalf("Verify(%q) = %v, want %v", pw, ok, want)
		}
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	a, _ := h.Hash("same-input")
	b, _ := h.Hash("same-input")
	if a == b {
		t.Fatal("two hashes of one password should differ")
	}
}

func TestBcryptHashesVerifyAndNeedRehash(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	stored, err := bcrypt.GenerateFromPassword([]byte("Seeded123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	if ok, err := h.Verify("Seeded123", string(stored)); err != nil || !ok {
		t.Fatalf("expected bcrypt match: ok=%v err=%v", ok, err)
	}
	if ok, err := h.Verify("Seeded124", string(stored)); err != nil || ok {
		t.Fatalf("expected clean bcrypt mismatch: ok=%v err=%v", ok, err)
	}
	if needs, err := h.NeedsRehash(string(stored)); err != nil || !needs {
		t.Fatalf("bcrypt should be upgraded: %v %v", needs, err)
	}
}

func TestNeedsRehashFollowsConfig(t *testing.T) {
	cheap := mustHasher(t, cheapConfig())
	encoded, err := cheap.Hash("upgrade-me")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if needs, _ := cheap.NeedsRehash(encoded); needs {
		t.Fatal("hash at current cost should not need rehash")
	}
	if needs, _ := mustHasher(t, loginConfig()).NeedsRehash(encoded); !needs {
		t.Fatal("hash below current cost should need rehash")
	}

	longer := cheapConfig()
	longer.KeyLength = 64
	if needs, _ := mustHasher(t, longer).NeedsRehash(encoded); !needs {
		t.Fatal("key length change should force rehash")
	}
}

func TestVerifyRejectsBadEncodings(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	good, err := h.Hash("format-check")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	salt := strings.Split(good, "$")[4]

	cases := []struct {
		name    string
		encoded string
		want    error
	}{
		{"plain text", "not-a-phc-hash", ErrUnsupportedHash},
		{"other algorithm", "$argon2i$v=19$m=8192,t=1,p=1$" + salt + "$AAAA", ErrUnsupportedHash},
		{"old version", strings.Replace(good, "$v=19$", "$v=16$", 1), ErrMalformedHash},
		{"weak memory", strings.Replace(good, "m=8192", "m=1024", 1), ErrMalformedHash},
		{"duplicate param", strings.Replace(good, "t=1", "m=8192", 1), ErrMalformedHash},
		{"unknown param", strings.Replace(good, "t=1", "x=1", 1), ErrMalformedHash},
		{"short salt", "$argon2id$v=19$m=8192,t=1,p=1$AAAA$AAAA", ErrMalformedHash},
		{"missing section", strings.TrimSuffix(good, "$"+strings.Split(good, "$")[5]), ErrMalformedHash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := h.Verify("format-check", tc.encoded)
			if ok || !errors.Is(err, tc.want) {
				t.Fatalf("Verify = %v, %v; want error %v", ok, err, tc.want)
			}
		})
	}
}

func TestPasswordLengthBounds(t *testing.T) {
	cfg := cheapConfig()
	cfg.MaxPasswordBytes = 64
	h := mustHasher(t, cfg)

	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong from Hash, got %v", err)
	}
	encoded, err := h.Hash(strings.Repeat("b", 64))
	if err != nil {
		t.Fatalf("exactly-max password rejected: %v", err)
	}
	if _, err := h.Verify(strings.Repeat("c", 65), encoded); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong from Verify, got %v", err)
	}
}

func TestNewHasherFloors(t *testing.T) {
	mutations := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
	}
	for name, mutate := range mutations {
		cfg := cheapConfig()
		mutate(&cfg)
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("expected %s below floor to be rejected", name)
		}
	}
}
