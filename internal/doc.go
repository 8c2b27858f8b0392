// Package internal holds helpers private to the sign-in engine: random
// codes, device tokens and key hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch.
//   - emailotp: email one-time codes stored in Redis.
//   - flows: the two-factor and backup-code operations as plain functions.
//   - limiters: the email lookup limiter.
//   - stores: Redis stores for attempts, enrollments, trusted devices and
//     TOTP replay claims.
//   - config, logging, keysource: process wiring for the binaries.
package internal
