// Package postgres is the authflow.CredentialStore backed by PostgreSQL
// through database/sql and the pgx stdlib driver. The schema is applied
// with goose from embedded migrations.
//
// Backup-code updates are conditional UPDATE statements on the current
// blob, so concurrent consumers of the same code cannot both win.
package postgres
