// Package middleware exposes HTTP guards for the administrative and public
// share routes.
//
// # Guards
//
//   - [Guard]: resolves the bearer token to a principal and stores it on the
//     request context.
//   - [RequireAdmin]: rejects principals without the ADMIN role.
//   - [ShareGate]: re-checks the share-access cookie on every request.
//
// Each guard delegates the decision to a resolver or to the engine and only
// translates the outcome into an HTTP status.
//
// # What this package must NOT do
//
//   - Issue login sessions or tokens.
//   - Touch Redis or the database directly.
//   - Count share-code usage (the gate is read-only).
package middleware
