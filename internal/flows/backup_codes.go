package flows

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
)

// BackupCodeUser is the slice of a user record the backup-code flows read.
type BackupCodeUser struct {
	UserID           string
	TwoFactorEnabled bool
	TwoFactorSecret  string
	BackupCodes      string
}

type BackupCodeMetrics struct {
	BackupCodeUsed        int
	BackupCodeFailed      int
	BackupCodeRegenerated int
	BackupCodesMigrated   int
}

type BackupCodeEvents struct {
	BackupCodeUsed         string
	BackupCodeFailed       string
	BackupCodesRegenerated string
	BackupCodesMigrated    string
}

type BackupCodeErrors struct {
	EngineNotReady      error
	UserNotFound        error
	Unavailable         error
	InvalidCredential   error
	TwoFactorNotEnabled error
}

type BackupCodeDeps struct {
	Count      int
	Length     int
	MaxRetries int

	LoadUser   func(context.Context, string) (BackupCodeUser, error)
	IsNotFound func(error) bool
	// CompareAndSwap writes next only if the stored blob still equals expected.
	CompareAndSwap func(ctx context.Context, userID, expected, next string) (bool, error)

	Decode   func(string) ([]string, error)
	Seal     func([]string) (string, error)
	Migrate  func(string) (string, bool, error)
	Generate func(count, length int) ([]string, error)

	VerifyTOTP func(context.Context, BackupCodeUser, string) error

	Logger    *zap.Logger
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
	Errors  BackupCodeErrors
}

// RunConsumeBackupCode removes code from the user's set and returns how many
// codes remain. A lost write race re-reads the set, so two requests racing on
// the same code cannot both succeed.
func RunConsumeBackupCode(ctx context.Context, userID, code string, deps BackupCodeDeps) (int, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.LoadUser == nil || deps.CompareAndSwap == nil || deps.Decode == nil || deps.Seal == nil {
		return 0, deps.Errors.EngineNotReady
	}

	for i := 0; i < deps.MaxRetries; i++ {
		user, err := loadBackupCodeUser(ctx, userID, deps)
		if err != nil {
			return 0, err
		}
		if !user.TwoFactorEnabled {
			return 0, deps.Errors.TwoFactorNotEnabled
		}

		codes, err := deps.Decode(user.BackupCodes)
		if err != nil {
			deps.Logger.Error("backup codes unreadable", zap.String("user_id", userID), zap.Error(err))
			return 0, deps.Errors.Unavailable
		}

		res := backupcode.Consume(code, codes)
		if !res.Valid {
			deps.MetricInc(deps.Metrics.BackupCodeFailed)
			deps.EmitAudit(ctx, deps.Events.BackupCodeFailed, false, userID, deps.Errors.InvalidCredential, nil)
			return 0, deps.Errors.InvalidCredential
		}

		next, err := deps.Seal(res.Remaining)
		if err != nil {
			deps.Logger.Error("backup codes seal failed", zap.String("user_id", userID), zap.Error(err))
			return 0, deps.Errors.Unavailable
		}
		swapped, err := deps.CompareAndSwap(ctx, userID, user.BackupCodes, next)
		if err != nil {
			deps.Logger.Warn("backup codes write failed", zap.String("user_id", userID), zap.Error(err))
			return 0, deps.Errors.Unavailable
		}
		if !swapped {
			continue
		}

		remaining := len(res.Remaining)
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, userID, nil, func() map[string]string {
			return map[string]string{"remaining": fmt.Sprint(remaining)}
		})
		return remaining, nil
	}

	deps.Logger.Warn("backup code consume kept losing races", zap.String("user_id", userID))
	return 0, deps.Errors.Unavailable
}

// RunRegenerateBackupCodes replaces the whole set after a TOTP check and
// returns the new plaintext codes.
func RunRegenerateBackupCodes(ctx context.Context, userID, totpCode string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.LoadUser == nil || deps.CompareAndSwap == nil || deps.Seal == nil || deps.VerifyTOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}

	codes, err := deps.Generate(deps.Count, deps.Length)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	sealed, err := deps.Seal(codes)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}

	verified := false
	for i := 0; i < deps.MaxRetries; i++ {
		user, err := loadBackupCodeUser(ctx, userID, deps)
		if err != nil {
			return nil, err
		}
		if !user.TwoFactorEnabled {
			return nil, deps.Errors.TwoFactorNotEnabled
		}
		if !verified {
			if err := deps.VerifyTOTP(ctx, user, totpCode); err != nil {
				return nil, err
			}
			verified = true
		}

		swapped, err := deps.CompareAndSwap(ctx, userID, user.BackupCodes, sealed)
		if err != nil {
			deps.Logger.Warn("backup codes write failed", zap.String("user_id", userID), zap.Error(err))
			return nil, deps.Errors.Unavailable
		}
		if swapped {
			deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
			deps.EmitAudit(ctx, deps.Events.BackupCodesRegenerated, true, userID, nil, nil)
			return codes, nil
		}
	}
	return nil, deps.Errors.Unavailable
}

// RunMigrateBackupCodes rewrites the stored set into the current sealed
// format. It reports false when there was nothing to do.
func RunMigrateBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) (bool, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.LoadUser == nil || deps.CompareAndSwap == nil || deps.Migrate == nil {
		return false, deps.Errors.EngineNotReady
	}

	for i := 0; i < deps.MaxRetries; i++ {
		user, err := loadBackupCodeUser(ctx, userID, deps)
		if err != nil {
			return false, err
		}

		next, changed, err := deps.Migrate(user.BackupCodes)
		if err != nil {
			return false, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		if !changed {
			return false, nil
		}

		swapped, err := deps.CompareAndSwap(ctx, userID, user.BackupCodes, next)
		if err != nil {
			return false, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		if swapped {
			deps.MetricInc(deps.Metrics.BackupCodesMigrated)
			deps.EmitAudit(ctx, deps.Events.BackupCodesMigrated, true, userID, nil, nil)
			return true, nil
		}
	}
	return false, deps.Errors.Unavailable
}

// RunCountBackupCodes returns how many unused codes the user holds.
func RunCountBackupCodes(ctx context.Context, userID string, deps BackupCodeDeps) (int, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.LoadUser == nil || deps.Decode == nil {
		return 0, deps.Errors.EngineNotReady
	}
	user, err := loadBackupCodeUser(ctx, userID, deps)
	if err != nil {
		return 0, err
	}
	codes, err := deps.Decode(user.BackupCodes)
	if err != nil {
		return 0, deps.Errors.Unavailable
	}
	return len(codes), nil
}

func loadBackupCodeUser(ctx context.Context, userID string, deps BackupCodeDeps) (BackupCodeUser, error) {
	if userID == "" {
		return BackupCodeUser{}, deps.Errors.UserNotFound
	}
	user, err := deps.LoadUser(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return BackupCodeUser{}, deps.Errors.UserNotFound
		}
		deps.Logger.Warn("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return BackupCodeUser{}, deps.Errors.Unavailable
	}
	return user, nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.Count <= 0 {
		deps.Count = backupcode.DefaultCount
	}
	if deps.Length <= 0 {
		deps.Length = backupcode.DefaultLength
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = 4
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.Generate == nil {
		deps.Generate = backupcode.Generate
	}
	deps.Logger = nopLogger(deps.Logger)
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
