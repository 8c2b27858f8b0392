package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/password"
)

const userColumns = `id, email, password_hash, email_verified, role, two_factor_enabled, two_factor_secret, backup_codes`

// Store implements authflow.CredentialStore on the users table.
type Store struct {
	db     DBTX
	hasher *password.Hasher
}

// New binds a Store to db, which may be a *sql.DB or a *sql.Tx.
func New(db DBTX, hasher *password.Hasher) *Store {
	return &Store{db: db, hasher: hasher}
}

// CreateUser inserts u with a fresh id when UserID is empty. A non-empty
// secret is hashed and then wiped.
func (s *Store) CreateUser(ctx context.Context, u authflow.UserRecord, secret []byte) (authflow.UserRecord, error) {
	defer password.Wipe(secret)

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	if len(secret) > 0 {
		if s.hasher == nil {
			return authflow.UserRecord{}, errors.New("postgres: no password hasher configured")
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return authflow.UserRecord{}, err
		}
		u.PasswordHash = hash
	}

	query :=
		`INSERT INTO users (id, email, password_hash, email_verified, role, two_factor_enabled, two_factor_secret, backup_codes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		u.UserID, u.Email, u.PasswordHash, u.EmailVerified, u.Role,
		u.TwoFactorEnabled, u.TwoFactorSecret, u.BackupCodes).Scan(&u.UserID)
	if err != nil {
		return authflow.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (authflow.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (authflow.UserRecord, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return authflow.UserRecord{}, authflow.ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

func (s *Store) scanUser(row *sql.Row) (authflow.UserRecord, error) {
	var u authflow.UserRecord
	err := row.Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.Role,
		&u.TwoFactorEnabled, &u.TwoFactorSecret, &u.BackupCodes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authflow.UserRecord{}, authflow.ErrUserNotFound
		}
		return authflow.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// VerifyPassword checks secret against the stored hash and upgrades
// outdated hashes after a match. Unknown users and accounts without a
// password are a plain mismatch.
func (s *Store) VerifyPassword(ctx context.Context, userID string, secret []byte) (authflow.PasswordCheck, error) {
	u, err := s.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, authflow.ErrUserNotFound) {
			return authflow.PasswordCheck{}, nil
		}
		return authflow.PasswordCheck{}, err
	}
	if !u.HasPassword() || s.hasher == nil {
		return authflow.PasswordCheck{}, nil
	}

	ok, err := s.hasher.Verify(secret, u.PasswordHash)
	if err != nil {
		return authflow.PasswordCheck{}, err
	}
	if !ok {
		return authflow.PasswordCheck{}, nil
	}

	if stale, _ := s.hasher.NeedsRehash(u.PasswordHash); stale {
		if hash, err := s.hasher.Hash(secret); err == nil {
			query :=
				`UPDATE users SET password_hash = $2, updated_at = now()
				 WHERE id = $1 AND password_hash = $3`
			// Best effort; the next sign-in retries.
			_, _ = s.db.ExecContext(ctx, query, u.UserID, hash, u.PasswordHash)
		}
	}
	return authflow.PasswordCheck{OK: true, RequiresTwoFactor: u.TwoFactorEnabled}, nil
}

// UpdateBackupCodes stores next only while the row still holds expected.
func (s *Store) UpdateBackupCodes(ctx context.Context, userID, expected, next string) (bool, error) {
	query :=
		`UPDATE users SET backup_codes = $3, updated_at = now()
		 WHERE id = $1 AND backup_codes = $2`

	res, err := s.db.ExecContext(ctx, query, userID, expected, next)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (s *Store) SetTwoFactorEnabled(ctx context.Context, userID, secret, backupCodes string) error {
	query :=
		`UPDATE users SET two_factor_enabled = TRUE, two_factor_secret = $2, backup_codes = $3, updated_at = now()
		 WHERE id = $1`
	return s.execOne(ctx, query, userID, secret, backupCodes)
}

func (s *Store) ClearTwoFactor(ctx context.Context, userID string) error {
	query :=
		`UPDATE users SET two_factor_enabled = FALSE, two_factor_secret = '', backup_codes = '', updated_at = now()
		 WHERE id = $1`
	return s.execOne(ctx, query, userID)
}

// ListUsersWithBackupCodes returns the ids of accounts that hold a
// backup-code blob, in id order.
func (s *Store) ListUsersWithBackupCodes(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM users WHERE backup_codes <> '' ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authflow.ErrUserNotFound
	}
	return nil
}

var _ authflow.CredentialStore = (*Store)(nil)
