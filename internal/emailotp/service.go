// Package emailotp implements the email one-time code used on the sign-in
// path for accounts without two-factor authentication.
//
// Codes are six digits, stored in Redis only as a SHA-256 hash bound to the
// email address, expire after a TTL, and are consumed atomically. Sending a
// new code replaces the previous one.
package emailotp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/PHPxCODER/rdp-website-sub000/internal"
)

const CodeLength = 6

// ErrDelivery is returned when the mailer fails to send a code.
var ErrDelivery = errors.New("email code delivery failed")

// Mailer delivers a sign-in code.
type Mailer interface {
	SendSignInCode(ctx context.Context, email, code string, ttl time.Duration) error
}

// Config controls code lifetime and the per-code attempt cap.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

// Result mirrors the facility contract: OK plus whether the account behind
// the email has two-factor enabled at verification time.
type Result struct {
	OK                bool
	RequiresTwoFactor bool
}

// Service issues and verifies codes.
type Service struct {
	cfg    Config
	store  *Store
	mailer Mailer
	// requiresTwoFactor is consulted after a successful match.
	requiresTwoFactor func(ctx context.Context, email string) (bool, error)
	newCode           func() (string, error)
}

func NewService(cfg Config, store *Store, mailer Mailer, requiresTwoFactor func(context.Context, string) (bool, error)) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if requiresTwoFactor == nil {
		requiresTwoFactor = func(context.Context, string) (bool, error) { return false, nil }
	}
	return &Service{
		cfg:               cfg,
		store:             store,
		mailer:            mailer,
		requiresTwoFactor: requiresTwoFactor,
		newCode:           func() (string, error) { return internal.NewOTP(CodeLength) },
	}
}

// SendOTP stores a fresh code for email and mails it.
func (s *Service) SendOTP(ctx context.Context, email string) error {
	code, err := s.newCode()
	if err != nil {
		return err
	}

	key := internal.HashEmail(email)
	if err := s.store.Put(ctx, key, hashCode(email, code), s.cfg.TTL); err != nil {
		return err
	}
	if err := s.mailer.SendSignInCode(ctx, email, code, s.cfg.TTL); err != nil {
		_ = s.store.Delete(ctx, key)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// VerifyOTP consumes the pending code for email. A wrong, expired or
// missing code is a non-error {OK: false}.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (Result, error) {
	if len(code) != CodeLength {
		return Result{}, nil
	}

	err := s.store.Consume(ctx, internal.HashEmail(email), hashCode(email, code), s.cfg.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch), errors.Is(err, ErrCodeAttemptsExceeded):
		return Result{}, nil
	default:
		return Result{}, err
	}

	twoFactor, err := s.requiresTwoFactor(ctx, email)
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, RequiresTwoFactor: twoFactor}, nil
}

func hashCode(email, code string) [32]byte {
	h := sha256.New()
	h.Write([]byte(internal.HashEmail(email)))
	h.Write([]byte{0})
	h.Write([]byte(code))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
