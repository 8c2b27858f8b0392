package authflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignInStarted        = "signin_started"
	auditEventEmailNotRegistered   = "signin_email_not_registered"
	auditEventEmailRateLimited     = "signin_email_rate_limited"
	auditEventEmailCodeSent        = "signin_email_code_sent"
	auditEventEmailCodeFailure     = "signin_email_code_failure"
	auditEventPasswordFailure      = "signin_password_failure"
	auditEventTwoFactorRequired    = "signin_two_factor_required"
	auditEventAttemptsExhausted    = "signin_attempts_exhausted"
	auditEventSignInSuccess        = "signin_success"
	auditEventTrustedDeviceIssued  = "trusted_device_issued"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPFailure          = "totp_failure"
	auditEventTOTPReplay           = "totp_replay"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventBackupCodesMigrated  = "backup_codes_migrated"
	auditEventBackendUnavailable   = "backend_unavailable"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrNotRegistered     AuditErrorCode = "not_registered"
	auditErrInvalidCredential AuditErrorCode = "invalid_credential"
	auditErrAttemptsExhausted AuditErrorCode = "attempts_exhausted"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInvalidStep       AuditErrorCode = "invalid_step"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	attemptID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		AttemptID: attemptID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotRegistered):
		return auditErrNotRegistered
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrInvalidStep):
		return auditErrInvalidStep
	default:
		return auditErrInternal
	}
}
