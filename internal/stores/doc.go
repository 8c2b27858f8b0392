// Package stores provides the short-lived Redis state behind sign-in:
// in-progress attempts, pending TOTP enrollments, trusted devices and
// claimed TOTP time steps.
//
// Attempts are a versioned binary record. Updates are compare-and-swap on a
// revision number inside WATCH/MULTI, retried on transaction contention.
//
// # What this package must NOT do
//
//   - Import authflow or any sibling internal package.
//   - Store raw device tokens; callers pass a digest.
//   - Make authentication decisions.
package stores
