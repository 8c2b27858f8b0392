// Package internaldefs maps engine counters onto labelled metric families
// shared by the Prometheus and OpenTelemetry exporters.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
