// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported from the previous platform still carry bcrypt hashes
// ($2a$, $2b$, $2y$). [Hasher.Verify] accepts both and [Hasher.NeedsRehash]
// reports true for every bcrypt hash so callers can upgrade after a
// successful sign-in.
//
// Passwords are taken as byte slices so callers can wipe them after use.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords or hash parameters.
package password
