// Package memory is an in-process authflow.CredentialStore for tests, demos
// and single-node development. Passwords are hashed with the password
// package; backup-code updates are compare-and-swap under a mutex.
package memory
