package authflow

import (
	"context"

	"github.com/PHPxCODER/rdp-website-sub000/internal/emailotp"
	"github.com/PHPxCODER/rdp-website-sub000/session"
)

// UserRecord is the account data the sign-in engine reads from a
// CredentialStore.
//
// BackupCodes is the raw stored blob, either the legacy comma-separated list
// or a sealed JSON envelope. The engine decodes it; stores treat it as opaque.
type UserRecord struct {
	UserID           string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	Role             string
	TwoFactorEnabled bool
	TwoFactorSecret  string
	BackupCodes      string
}

// HasPassword reports whether the account has a password credential.
func (u UserRecord) HasPassword() bool {
	return u.PasswordHash != ""
}

// PasswordCheck is the result of CredentialStore.VerifyPassword.
type PasswordCheck struct {
	OK                bool
	RequiresTwoFactor bool
}

// OTPResult is the result of OTPFacility.VerifyOTP.
type OTPResult struct {
	OK                bool
	RequiresTwoFactor bool
}

// CredentialStore is the persistence boundary for user accounts.
//
// FindUserByEmail and FindUserByID return an error matching ErrUserNotFound
// for unknown users. Email is already trimmed and lower-cased.
//
// UpdateBackupCodes must be a conditional write: it stores next only if the
// current blob still equals expected, and reports whether it did.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (UserRecord, error)
	FindUserByID(ctx context.Context, userID string) (UserRecord, error)
	VerifyPassword(ctx context.Context, userID string, password []byte) (PasswordCheck, error)
	UpdateBackupCodes(ctx context.Context, userID, expected, next string) (bool, error)
	SetTwoFactorEnabled(ctx context.Context, userID, secret, backupCodes string) error
	ClearTwoFactor(ctx context.Context, userID string) error
}

// OTPFacility sends and verifies one-time email codes. A wrong or expired
// code is OTPResult{OK: false} with a nil error.
type OTPFacility interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (OTPResult, error)
}

// Mailer delivers sign-in codes for the built-in OTP facility.
type Mailer = emailotp.Mailer

// SessionIssuer mints the session credential on successful sign-in.
type SessionIssuer interface {
	Issue(ctx context.Context, identity session.Identity) (session.Token, error)
}

// EmailLimiter throttles email submissions. Returning an error matching
// ErrRateLimited rejects the submission; any other error is treated as the
// limiter being unavailable.
type EmailLimiter interface {
	Allow(ctx context.Context, email, ip string) error
}

type emailOTPAdapter struct {
	svc *emailotp.Service
}

func (a emailOTPAdapter) SendOTP(ctx context.Context, email string) error {
	return a.svc.SendOTP(ctx, email)
}

func (a emailOTPAdapter) VerifyOTP(ctx context.Context, email, code string) (OTPResult, error) {
	res, err := a.svc.VerifyOTP(ctx, email, code)
	return OTPResult{OK: res.OK, RequiresTwoFactor: res.RequiresTwoFactor}, err
}
