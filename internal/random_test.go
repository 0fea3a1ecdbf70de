package internal

import (
	"strings"
	"testing"
)

func TestNewPINIsNumericAndFixedLength(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin, err := NewPIN(6)
		if err != nil {
			t.Fatalf("NewPIN: %v", err)
		}
		if len(pin) != 6 {
			t.Fatalf("expected 6 digits, got %q", pin)
		}
		for _, r := range pin {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in pin %q", pin)
			}
		}
	}
}

func TestNewPINRejectsBadLength(t *testing.T) {
	if _, err := NewPIN(2); err == nil {
		t.Fatal("expected error for 2-digit pin")
	}
}

func TestNewResetTokenShape(t *testing.T) {
	tok, err := NewResetToken()
	if err != nil {
		t.Fatalf("NewResetToken: %v", err)
	}
	if !IsResetTokenShape(tok) {
		t.Fatalf("token %q does not match reset shape", tok)
	}
	if IsResetTokenShape(tok[:63]) {
		t.Fatal("63-char token must not match")
	}
	if IsResetTokenShape(strings.Repeat("z", 64)) {
		t.Fatal("non-hex token must not match")
	}
}

func TestSessionTokensAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		tok, err := NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate session token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewShareCodeUsesAlphabet(t *testing.T) {
	code, err := NewShareCode(8)
	if err != nil {
		t.Fatalf("NewShareCode: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("expected length 8, got %q", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(ShareCodeAlphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, code)
		}
	}
}

func TestHashSecretHexIsStable(t *testing.T) {
	a := HashSecretHex("abc")
	if a != HashSecretHex("abc") {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}
