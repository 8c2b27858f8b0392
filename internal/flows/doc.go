// Package flows contains the two-factor and backup-code operations as plain
// functions over a dependency struct.
//
// Each Run function receives everything it touches through its Deps value:
// store callbacks, the code generator, metric ids, audit event names and the
// error values to return. The root package builds the Deps once and keeps
// the Engine methods thin.
//
// # What this package must NOT do
//
//   - Hold state between calls.
//   - Import authflow.
//   - Perform I/O other than through its Deps.
package flows
