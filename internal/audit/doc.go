// Package audit delivers sign-in and two-factor audit events asynchronously.
//
// # Components
//
//   - [Sink] is the consumer interface. Implementations: no-op, channel,
//     JSON lines, zap, Kafka.
//   - [Dispatcher] is a buffered relay that either blocks or drops when full.
//
// # What this package must NOT do
//
//   - Decide which events are emitted.
//   - Import authflow or any sibling internal package.
package audit
