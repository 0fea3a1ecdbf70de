// Package prometheus renders pjutsauth engine metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads [pjutsauth.Engine.MetricsSnapshot] on every
// scrape. Each flow is a pjutsauth_*_total counter family split by an
// outcome label, e.g. pjutsauth_pin_verify_total{outcome="expired"}. The
// one histogram is pjutsauth_credential_check_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
