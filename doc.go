// Package authflow implements the sign-in and two-factor core of the site:
// the email, password, email code, TOTP and backup code state machine that
// takes a user from unauthenticated to holding a session.
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [Engine], [Builder], [Config],
// [Flow] and the collaborator interfaces ([CredentialStore], [OTPFacility],
// [SessionIssuer], [EmailLimiter]). Redis stores, the email code facility,
// audit dispatch and the two-factor lifecycle flows live under internal/
// and are never exported.
//
// # Flows
//
// A [Flow] is one sign-in attempt and is used by a single goroutine. The
// [Engine] that creates it is safe for concurrent use. Transports serving a
// flow across several requests persist it with [Engine.StartFlow],
// [Engine.LoadFlow] and [Engine.SaveFlow].
//
// # Errors
//
// Every Flow operation returns nil or an error matching one of the
// sentinels in errors.go; collaborator errors are logged and reported as
// [ErrUnavailable]. [KindOf] maps an error to the category a UI renders.
package authflow
