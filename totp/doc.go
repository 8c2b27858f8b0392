// Package totp generates authenticator enrollments and verifies RFC 6238
// time-based codes.
//
// # Secrets
//
// Secrets are base32 strings without padding, built from [Config.SecretSize]
// random bytes. An [Enrollment] carries the secret, the otpauth:// URI and a
// PNG QR rendering of that URI.
//
// # Verification
//
// [Manager.Verify] accepts a code generated for any time step within
// ±[Config.Skew] steps of the supplied instant and reports which step
// matched, so callers can reject a second use of the same step.
//
// # What this package must NOT do
//
//   - Persist secrets or track used steps.
//   - Return errors for malformed user input; a bad code is simply not valid.
package totp
