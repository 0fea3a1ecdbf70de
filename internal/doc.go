// Package internal contains helpers that are intentionally private to pjutsauth,
// chiefly secure random generation for PINs, session tokens, reset tokens, and
// share codes.
//
// # Sub-packages
//
//   - rate: Redis-backed fixed-window counters keyed by action:identity
//   - stores: Redis PIN-challenge sessions and the verification replay set
//
// # What this package must NOT do
//
//   - Export types that appear in the public pjutsauth API.
//   - Be imported by any package outside the pjutsauth module.
package internal
