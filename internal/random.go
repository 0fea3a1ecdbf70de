package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	sessionTokenSize = 32
	resetTokenSize   = 32

	// ShareCodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
	ShareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewPIN returns a uniformly distributed numeric PIN of the given length.
func NewPIN(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid pin digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	pin := b.String()
	if len(pin) != digits {
		return "", fmt.Errorf("invalid pin generation length")
	}
	return pin, nil
}

// NewSessionToken returns an opaque 256-bit token, base64url without padding.
func NewSessionToken() (string, error) {
	var raw [sessionTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewResetToken returns a 256-bit token hex-encoded to 64 characters.
func NewResetToken() (string, error) {
	var raw [resetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// IsResetTokenShape reports whether token is exactly 64 lowercase or uppercase hex chars.
func IsResetTokenShape(token string) bool {
	if len(token) != hex.EncodedLen(resetTokenSize) {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// HashSecret returns the SHA-256 digest of secret.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// HashSecretHex returns the hex SHA-256 digest of secret. Reset tokens are
// persisted in this form so a leaked table cannot be replayed.
func HashSecretHex(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewShareCode returns a random code drawn from [ShareCodeAlphabet].
func NewShareCode(length int) (string, error) {
	if length < 4 || length > 32 {
		return "", errors.New("invalid share code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(ShareCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(ShareCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
