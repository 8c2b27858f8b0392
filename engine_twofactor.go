package authflow

import (
	"context"
	"errors"

	"github.com/PHPxCODER/rdp-website-sub000/internal/flows"
	"github.com/PHPxCODER/rdp-website-sub000/internal/stores"
	"github.com/PHPxCODER/rdp-website-sub000/totp"
)

// BeginTOTPEnrollment creates a pending authenticator secret for userID.
// The account must have a password and no active two-factor setup. The
// secret expires after Config.TOTP.EnrollmentTTL unless confirmed.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID string) (*totp.Enrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunBeginEnrollment(ctx, userID, e.twoFactorDeps)
}

// ConfirmTOTPEnrollment verifies the first code from the authenticator app,
// enables two-factor and returns the initial backup codes. The codes are
// only ever returned here and by RegenerateBackupCodes.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunConfirmEnrollment(ctx, userID, code, e.twoFactorDeps)
}

// DisableTwoFactor turns two-factor off after a valid TOTP and revokes all
// trusted devices of the user.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunDisableTwoFactor(ctx, userID, code, e.twoFactorDeps)
}

func (e *Engine) loadTwoFactorUser(ctx context.Context, userID string) (flows.TwoFactorUser, error) {
	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		return flows.TwoFactorUser{}, err
	}
	return twoFactorUser(user), nil
}

func twoFactorUser(u UserRecord) flows.TwoFactorUser {
	return flows.TwoFactorUser{
		UserID:           u.UserID,
		Email:            u.Email,
		HasPassword:      u.HasPassword(),
		TwoFactorEnabled: u.TwoFactorEnabled,
		TwoFactorSecret:  u.TwoFactorSecret,
	}
}

func (e *Engine) buildTwoFactorDeps() flows.TwoFactorDeps {
	return flows.TwoFactorDeps{
		Issuer:                  e.config.TOTP.Issuer,
		EnrollmentTTL:           e.config.TOTP.EnrollmentTTL,
		ReplayTTL:               e.totp.Window(),
		EnforceReplayProtection: e.config.TOTP.EnforceReplayProtection,

		LoadUser:   e.loadTwoFactorUser,
		IsNotFound: isUserNotFound,

		Generate:   e.totp.Generate,
		VerifyCode: e.totp.Verify,
		ClaimStep:  e.replay.Claim,

		SavePending:   e.enrollments.Save,
		LoadPending:   e.enrollments.Get,
		DeletePending: e.enrollments.Delete,
		IsPendingNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrEnrollmentNotFound)
		},

		GenerateBackupCodes: func() ([]string, error) {
			return e.generateBackupCodes()
		},
		SealBackupCodes: e.vault.Seal,
		EnableTwoFactor: e.store.SetTwoFactorEnabled,
		ClearTwoFactor:  e.store.ClearTwoFactor,
		RevokeDevices:   e.devices.RevokeAll,

		Logger:    e.logger,
		MetricInc: e.flowMetricInc,
		EmitAudit: e.flowAudit,

		Metrics: flows.TwoFactorMetrics{
			TOTPSuccess:       int(MetricTOTPSuccess),
			TOTPFailure:       int(MetricTOTPFailure),
			TOTPReplay:        int(MetricTOTPReplay),
			TwoFactorEnabled:  int(MetricTwoFactorEnabled),
			TwoFactorDisabled: int(MetricTwoFactorDisabled),
		},
		Events: flows.TwoFactorEvents{
			EnrollmentStarted: auditEventTOTPSetupRequested,
			TwoFactorEnabled:  auditEventTOTPEnabled,
			TwoFactorDisabled: auditEventTOTPDisabled,
			TOTPFailure:       auditEventTOTPFailure,
			TOTPReplay:        auditEventTOTPReplay,
		},
		Errors: flows.TwoFactorErrors{
			EngineNotReady:      ErrEngineNotReady,
			UserNotFound:        ErrUserNotFound,
			Unavailable:         ErrUnavailable,
			InvalidCredential:   ErrInvalidCredential,
			PasswordRequired:    ErrPasswordRequired,
			AlreadyEnabled:      ErrTwoFactorAlreadyEnabled,
			TwoFactorNotEnabled: ErrTwoFactorNotEnabled,
			EnrollmentExpired:   ErrEnrollmentExpired,
		},
	}
}
