// Package rate provides the Redis-backed fixed-window counters that guard every
// attempt-bearing pjutsauth operation.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. A key is
// composed as "action:identity" (see [Key]) under a configurable prefix:
//   - rl:login:<email>: failed password steps
//   - rl:share-code:<client ip>: failed share-code verifications
//   - rl:password-reset:<email>: reset requests
//   - rl:admin-share-code:<id>: administrative share-code operations
//
// Failure-counted keys are read with [Limiter.Check] before any expensive work
// and bumped with [Limiter.Increment] only after a rejected attempt. Call-counted
// keys (admin operations) use [Limiter.Allow], which increments first.
//
// # What this package must NOT do
//
//   - Decide which action a request belongs to (callers own the key policy).
//   - Be imported outside the pjutsauth module.
package rate
