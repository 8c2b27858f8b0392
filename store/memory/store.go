package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/password"
)

// ErrEmailTaken is returned by AddUser for a duplicate address.
var ErrEmailTaken = errors.New("memory: email already registered")

// Store keeps accounts in maps. The zero value is not usable; call New.
type Store struct {
	hasher *password.Hasher

	mu      sync.RWMutex
	byID    map[string]authflow.UserRecord
	byEmail map[string]string
}

func New(hasher *password.Hasher) *Store {
	return &Store{
		hasher:  hasher,
		byID:    make(map[string]authflow.UserRecord),
		byEmail: make(map[string]string),
	}
}

// AddUser registers u. An empty UserID is replaced by a random UUID, the
// email is normalized and a non-empty secret is hashed into PasswordHash.
// secret is wiped before AddUser returns.
func (s *Store) AddUser(_ context.Context, u authflow.UserRecord, secret []byte) (authflow.UserRecord, error) {
	defer password.Wipe(secret)

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	if len(secret) > 0 {
		if s.hasher == nil {
			return authflow.UserRecord{}, errors.New("memory: no password hasher configured")
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return authflow.UserRecord{}, err
		}
		u.PasswordHash = hash
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[u.Email]; ok && id != u.UserID {
		return authflow.UserRecord{}, ErrEmailTaken
	}
	s.byID[u.UserID] = u
	s.byEmail[u.Email] = u.UserID
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (authflow.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return authflow.UserRecord{}, authflow.ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *Store) FindUserByID(_ context.Context, userID string) (authflow.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return authflow.UserRecord{}, authflow.ErrUserNotFound
	}
	return u, nil
}

// VerifyPassword checks secret against the stored hash. Accounts without a
// password never match. Outdated hashes are upgraded after a match.
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
			s.mu.Lock()
			if cur, ok := s.byID[userID]; ok && cur.PasswordHash == u.PasswordHash {
				cur.PasswordHash = hash
				s.byID[userID] = cur
			}
			s.mu.Unlock()
		}
	}
	return authflow.PasswordCheck{OK: true, RequiresTwoFactor: u.TwoFactorEnabled}, nil
}

func (s *Store) UpdateBackupCodes(_ context.Context, userID, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return false, authflow.ErrUserNotFound
	}
	if u.BackupCodes != expected {
		return false, nil
	}
	u.BackupCodes = next
	s.byID[userID] = u
	return true, nil
}

func (s *Store) SetTwoFactorEnabled(_ context.Context, userID, secret, backupCodes string) error {
	return s.update(userID, func(u *authflow.UserRecord) {
		u.TwoFactorEnabled = true
		u.TwoFactorSecret = secret
		u.BackupCodes = backupCodes
	})
}

func (s *Store) ClearTwoFactor(_ context.Context, userID string) error {
	return s.update(userID, func(u *authflow.UserRecord) {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.BackupCodes = ""
	})
}

// ListUsersWithBackupCodes returns the ids of accounts holding a backup-code
// blob, sorted.
func (s *Store) ListUsersWithBackupCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byID))
	for id, u := range s.byID {
		if u.BackupCodes != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) update(userID string, fn func(*authflow.UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authflow.ErrUserNotFound
	}
	fn(&u)
	s.byID[userID] = u
	return nil
}

var _ authflow.CredentialStore = (*Store)(nil)
