// Package httpapi exposes the sign-in engine over HTTP with a chi router.
//
// The sign-in attempt id travels in a short-lived cookie. Every /signin
// request loads the attempt, applies one step, saves it back and answers
// with the attempt state as JSON. On success the session cookie is set and
// the attempt cookie is cleared.
//
// Account routes under /account/2fa require a valid session.
package httpapi
