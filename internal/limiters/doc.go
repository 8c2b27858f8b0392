// Package limiters holds the Redis counter that throttles the "does this
// email have an account" step of sign-in.
//
// The limiter is nil-safe: a nil receiver allows every call.
//
// # What this package must NOT do
//
//   - Import authflow.
//   - Decide what a rejection means; the engine maps it to ErrRateLimited.
package limiters
