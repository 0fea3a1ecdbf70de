// Package stores provides Redis-backed, short-lived record stores for the
// PIN challenge and for verification-token replay tracking.
//
// # Design
//
// A PIN challenge is a versioned, binary-encoded record keyed by email, so a
// new challenge overwrites (supersedes) the previous one. Verify attempts run
// inside WATCH/MULTI optimistic transactions with retry on contention: two
// concurrent wrong guesses are serialised and each one is counted. Records are
// deleted on success, expiry, or when the attempt cap is reached. Secret
// comparisons use constant-time compare against stored SHA-256 digests.
//
// Expiry is judged against the caller-supplied time, not the Redis TTL; the TTL
// only bounds how long a dead record lingers.
//
// # What this package must NOT do
//
//   - Import pjutsauth or any sibling internal package.
//   - Generate PINs or tokens, or make rate-limit decisions.
//   - Store or log plaintext PINs or session tokens.
package stores
