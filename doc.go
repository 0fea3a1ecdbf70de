// Package pjutsauth is the authentication and access-control core of the PJUTS
// solar street-light monitoring service: a password step followed by a
// short-lived numeric PIN challenge, single-use password-reset tokens, and the
// share-code gate that exposes the public map to unauthenticated viewers.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines, and from many processes at once, after
// initialization through [Builder.Build]. No authoritative state lives in
// process memory; every invariant is enforced by Redis (rate counters, PIN
// sessions, verification replay set) or by the injected relational stores
// (credentials, reset tokens, share codes).
//
// # Flows
//
//   - [Engine.RequestPinChallenge] checks the login limiter, verifies the
//     password (always hashing, even for unknown emails) and issues a PIN
//     bound to a session token.
//   - [Engine.VerifyPinChallenge] counts attempts atomically and, on success,
//     mints a verification token valid for at most 30 seconds.
//   - [Engine.ConsumeVerificationToken] accepts that token exactly once.
//   - [Engine.RequestPasswordReset], [Engine.ResetPassword] and
//     [Engine.ValidateResetToken] implement enumeration-safe reset.
//   - [Engine.ValidateShareCode] and [Engine.CheckShareAccess] gate the public
//     map; the admin operations manage share codes.
//
// # Errors
//
// Every operation returns an error drawn from the sentinels in errors.go.
// [KindOf] folds them into a closed taxonomy and [CodeOf] yields the wire code
// a transport should send.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or record encodings in its public API.
//   - Log PINs, passwords, tokens or share codes.
//   - Import any sub-package that re-imports pjutsauth (no import cycles).
package pjutsauth
