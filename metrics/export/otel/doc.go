// Package otel binds pjutsauth engine metrics to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] creates one Int64ObservableCounter per metric family,
// observed once per outcome with an "outcome" attribute, plus
// credential-check latency gauges keyed by an "le" attribute. A single
// callback reads [pjutsauth.Engine.MetricsSnapshot] per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
