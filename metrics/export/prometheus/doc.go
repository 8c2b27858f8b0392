// Package prometheus renders the sign-in counter families and the step
// latency histogram in the Prometheus text exposition format.
//
// Families are labelled by outcome, step, reason or change, so a dashboard
// can split credential failures by sign-in step without joining series.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount Handler.
//   - Mutate engine state.
package prometheus
