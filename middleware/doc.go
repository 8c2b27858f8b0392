// Package middleware exposes HTTP middleware that authenticates requests
// with a session token minted by session.Issuer.
//
// # Guards
//
//   - [RequireSession] rejects requests without a valid session.
//   - [OptionalSession] attaches claims when present and never rejects.
//
// The token is read from the session cookie first and then from an
// "Authorization: Bearer" header. Validated claims are stored in the
// request context and read back with [ClaimsFromContext].
package middleware
