package authflow

import (
	"context"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/internal/flows"
)

// RegenerateBackupCodes replaces the user's backup codes after a valid TOTP
// and returns the new set. Every previously issued code stops working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunRegenerateBackupCodes(ctx, userID, totpCode, e.backupCodeDeps)
}

// MigrateBackupCodes rewrites the stored codes of userID into the current
// sealed format. It reports false when the record was already current, so
// running it repeatedly is safe.
func (e *Engine) MigrateBackupCodes(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return flows.RunMigrateBackupCodes(ctx, userID, e.backupCodeDeps)
}

// BackupCodesRemaining returns how many unused backup codes userID holds.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return flows.RunCountBackupCodes(ctx, userID, e.backupCodeDeps)
}

func (e *Engine) generateBackupCodes() ([]string, error) {
	return backupcode.Generate(e.config.BackupCodes.Count, e.config.BackupCodes.Length)
}

func (e *Engine) loadBackupCodeUser(ctx context.Context, userID string) (flows.BackupCodeUser, error) {
	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		return flows.BackupCodeUser{}, err
	}
	return flows.BackupCodeUser{
		UserID:           user.UserID,
		TwoFactorEnabled: user.TwoFactorEnabled,
		TwoFactorSecret:  user.TwoFactorSecret,
		BackupCodes:      user.BackupCodes,
	}, nil
}

func (e *Engine) decodeBackupCodes(stored string) ([]string, error) {
	codes, _, err := e.vault.Decode(stored)
	return codes, err
}

func (e *Engine) buildBackupCodeDeps() flows.BackupCodeDeps {
	return flows.BackupCodeDeps{
		Count:      e.config.BackupCodes.Count,
		Length:     e.config.BackupCodes.Length,
		MaxRetries: e.config.BackupCodes.MaxConsumeRetries,

		LoadUser:       e.loadBackupCodeUser,
		IsNotFound:     isUserNotFound,
		CompareAndSwap: e.store.UpdateBackupCodes,

		Decode:   e.decodeBackupCodes,
		Seal:     e.vault.Seal,
		Migrate:  e.vault.Migrate,
		Generate: backupcode.Generate,

		VerifyTOTP: func(ctx context.Context, u flows.BackupCodeUser, code string) error {
			return flows.RunVerifyTOTP(ctx, flows.TwoFactorUser{
				UserID:           u.UserID,
				TwoFactorEnabled: u.TwoFactorEnabled,
				TwoFactorSecret:  u.TwoFactorSecret,
			}, code, e.twoFactorDeps)
		},

		Logger:    e.logger,
		MetricInc: e.flowMetricInc,
		EmitAudit: e.flowAudit,

		Metrics: flows.BackupCodeMetrics{
			BackupCodeUsed:        int(MetricBackupCodeUsed),
			BackupCodeFailed:      int(MetricBackupCodeFailed),
			BackupCodeRegenerated: int(MetricBackupCodesRegenerated),
			BackupCodesMigrated:   int(MetricBackupCodesMigrated),
		},
		Events: flows.BackupCodeEvents{
			BackupCodeUsed:         auditEventBackupCodeUsed,
			BackupCodeFailed:       auditEventBackupCodeFailed,
			BackupCodesRegenerated: auditEventBackupCodesGenerated,
			BackupCodesMigrated:    auditEventBackupCodesMigrated,
		},
		Errors: flows.BackupCodeErrors{
			EngineNotReady:      ErrEngineNotReady,
			UserNotFound:        ErrUserNotFound,
			Unavailable:         ErrUnavailable,
			InvalidCredential:   ErrInvalidCredential,
			TwoFactorNotEnabled: ErrTwoFactorNotEnabled,
		},
	}
}
