// Package session issues and validates the signed session token handed out
// after a completed sign-in, and renders it as a cookie.
//
// Tokens are JWTs signed with HS256 or Ed25519. The default lifetime is 30
// days. The cookie is HttpOnly, SameSite=Lax, scoped to "/", and Secure
// whenever [Config.Secure] is set.
//
// # What this package must NOT do
//
//   - Decide whether a sign-in succeeded.
//   - Persist tokens server side.
package session
