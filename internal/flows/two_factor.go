package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/totp"
)

// TwoFactorUser is the slice of a user record the TOTP flows read.
type TwoFactorUser struct {
	UserID           string
	Email            string
	HasPassword      bool
	TwoFactorEnabled bool
	TwoFactorSecret  string
}

type TwoFactorMetrics struct {
	TOTPSuccess       int
	TOTPFailure       int
	TOTPReplay        int
	TwoFactorEnabled  int
	TwoFactorDisabled int
}

type TwoFactorEvents struct {
	EnrollmentStarted string
	TwoFactorEnabled  string
	TwoFactorDisabled string
	TOTPFailure       string
	TOTPReplay        string
}

type TwoFactorErrors struct {
	EngineNotReady      error
	UserNotFound        error
	Unavailable         error
	InvalidCredential   error
	PasswordRequired    error
	AlreadyEnabled      error
	TwoFactorNotEnabled error
	EnrollmentExpired   error
}

type TwoFactorDeps struct {
	Issuer                  string
	EnrollmentTTL           time.Duration
	ReplayTTL               time.Duration
	EnforceReplayProtection bool

	Now        func() time.Time
	LoadUser   func(context.Context, string) (TwoFactorUser, error)
	IsNotFound func(error) bool

	Generate   func(account, issuer string) (*totp.Enrollment, error)
	VerifyCode func(code, secret string, now time.Time) (bool, int64)
	ClaimStep  func(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error)

	SavePending       func(ctx context.Context, userID, secret string, ttl time.Duration) error
	LoadPending       func(ctx context.Context, userID string) (string, error)
	DeletePending     func(ctx context.Context, userID string) error
	IsPendingNotFound func(error) bool

	GenerateBackupCodes func() ([]string, error)
	SealBackupCodes     func([]string) (string, error)
	EnableTwoFactor     func(ctx context.Context, userID, secret, sealedCodes string) error
	ClearTwoFactor      func(ctx context.Context, userID string) error
	RevokeDevices       func(ctx context.Context, userID string) error

	Logger    *zap.Logger
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

// RunVerifyTOTP checks code against the user's enabled secret and, when
// replay protection is on, claims the matched time step.
func RunVerifyTOTP(ctx context.Context, user TwoFactorUser, code string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)

	if deps.VerifyCode == nil {
		return deps.Errors.EngineNotReady
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return deps.Errors.TwoFactorNotEnabled
	}

	ok, step := deps.VerifyCode(code, user.TwoFactorSecret, deps.Now())
	if !ok {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		deps.EmitAudit(ctx, deps.Events.TOTPFailure, false, user.UserID, deps.Errors.InvalidCredential, nil)
		return deps.Errors.InvalidCredential
	}

	if deps.EnforceReplayProtection && deps.ClaimStep != nil {
		fresh, err := deps.ClaimStep(ctx, user.UserID, step, deps.ReplayTTL)
		if err != nil {
			deps.Logger.Warn("totp replay guard unavailable", zap.String("user_id", user.UserID), zap.Error(err))
			return deps.Errors.Unavailable
		}
		if !fresh {
			deps.MetricInc(deps.Metrics.TOTPReplay)
			deps.EmitAudit(ctx, deps.Events.TOTPReplay, false, user.UserID, deps.Errors.InvalidCredential, nil)
			return deps.Errors.InvalidCredential
		}
	}

	deps.MetricInc(deps.Metrics.TOTPSuccess)
	return nil
}

// RunBeginEnrollment creates a pending secret for a user with a password and
// no active two-factor setup.
func RunBeginEnrollment(ctx context.Context, userID string, deps TwoFactorDeps) (*totp.Enrollment, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.Generate == nil || deps.SavePending == nil {
		return nil, deps.Errors.EngineNotReady
	}
	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if !user.HasPassword {
		return nil, deps.Errors.PasswordRequired
	}
	if user.TwoFactorEnabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	enrollment, err := deps.Generate(user.Email, deps.Issuer)
	if err != nil {
		deps.Logger.Error("totp secret generation failed", zap.Error(err))
		return nil, deps.Errors.Unavailable
	}
	if err := deps.SavePending(ctx, user.UserID, enrollment.Secret, deps.EnrollmentTTL); err != nil {
		deps.Logger.Warn("pending enrollment save failed", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, deps.Errors.Unavailable
	}

	deps.EmitAudit(ctx, deps.Events.EnrollmentStarted, true, user.UserID, nil, nil)
	return enrollment, nil
}

// RunConfirmEnrollment verifies the first code against the pending secret,
// then enables two-factor with a fresh backup-code set which it returns.
func RunConfirmEnrollment(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.LoadPending == nil || deps.VerifyCode == nil || deps.GenerateBackupCodes == nil ||
		deps.SealBackupCodes == nil || deps.EnableTwoFactor == nil {
		return nil, deps.Errors.EngineNotReady
	}
	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	secret, err := deps.LoadPending(ctx, user.UserID)
	if err != nil {
		if deps.IsPendingNotFound(err) {
			return nil, deps.Errors.EnrollmentExpired
		}
		return nil, deps.Errors.Unavailable
	}

	ok, step := deps.VerifyCode(code, secret, deps.Now())
	if !ok {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		deps.EmitAudit(ctx, deps.Events.TOTPFailure, false, user.UserID, deps.Errors.InvalidCredential, nil)
		return nil, deps.Errors.InvalidCredential
	}

	codes, err := deps.GenerateBackupCodes()
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	sealed, err := deps.SealBackupCodes(codes)
	if err != nil {
		deps.Logger.Error("backup codes seal failed", zap.Error(err))
		return nil, deps.Errors.Unavailable
	}
	if err := deps.EnableTwoFactor(ctx, user.UserID, secret, sealed); err != nil {
		deps.Logger.Warn("enable two-factor failed", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, deps.Errors.Unavailable
	}

	// The confirming code must not be usable again at sign-in.
	if deps.EnforceReplayProtection && deps.ClaimStep != nil {
		_, _ = deps.ClaimStep(ctx, user.UserID, step, deps.ReplayTTL)
	}
	if deps.DeletePending != nil {
		_ = deps.DeletePending(ctx, user.UserID)
	}

	deps.MetricInc(deps.Metrics.TwoFactorEnabled)
	deps.EmitAudit(ctx, deps.Events.TwoFactorEnabled, true, user.UserID, nil, nil)
	return codes, nil
}

// RunDisableTwoFactor turns two-factor off after a valid TOTP and forgets
// every trusted device of the user.
func RunDisableTwoFactor(ctx context.Context, userID, code string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)

	if deps.ClearTwoFactor == nil {
		return deps.Errors.EngineNotReady
	}
	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return err
	}
	if err := RunVerifyTOTP(ctx, user, code, deps); err != nil {
		return err
	}

	if err := deps.ClearTwoFactor(ctx, user.UserID); err != nil {
		deps.Logger.Warn("clear two-factor failed", zap.String("user_id", user.UserID), zap.Error(err))
		return deps.Errors.Unavailable
	}
	if deps.RevokeDevices != nil {
		if err := deps.RevokeDevices(ctx, user.UserID); err != nil {
			deps.Logger.Warn("trusted device revoke failed", zap.String("user_id", user.UserID), zap.Error(err))
		}
	}

	deps.MetricInc(deps.Metrics.TwoFactorDisabled)
	deps.EmitAudit(ctx, deps.Events.TwoFactorDisabled, true, user.UserID, nil, nil)
	return nil
}

func loadTwoFactorUser(ctx context.Context, userID string, deps TwoFactorDeps) (TwoFactorUser, error) {
	if userID == "" || deps.LoadUser == nil {
		return TwoFactorUser{}, deps.Errors.UserNotFound
	}
	user, err := deps.LoadUser(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return TwoFactorUser{}, deps.Errors.UserNotFound
		}
		deps.Logger.Warn("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return TwoFactorUser{}, deps.Errors.Unavailable
	}
	return user, nil
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.EnrollmentTTL <= 0 {
		deps.EnrollmentTTL = 10 * time.Minute
	}
	if deps.ReplayTTL <= 0 {
		deps.ReplayTTL = 150 * time.Second
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsPendingNotFound == nil {
		deps.IsPendingNotFound = func(error) bool { return false }
	}
	deps.Logger = nopLogger(deps.Logger)
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
