// Package otel publishes the sign-in counter families and the step latency
// histogram through OpenTelemetry observable instruments.
//
// Each family becomes one Int64ObservableCounter whose data points carry the
// family label, for example step="password" on
// authflow_credential_failures_total. Latency buckets share a single gauge
// keyed by an "le" attribute. One callback reads the engine snapshot per
// collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
