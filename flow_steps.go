package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/internal"
	"github.com/PHPxCODER/rdp-website-sub000/internal/flows"
	"github.com/PHPxCODER/rdp-website-sub000/internal/limiters"
	"github.com/PHPxCODER/rdp-website-sub000/password"
	"github.com/PHPxCODER/rdp-website-sub000/session"
)

// SubmitEmail looks up the account behind email. Accounts with two-factor
// continue to StepPassword; all others receive an email code and continue
// to StepCode.
func (f *Flow) SubmitEmail(ctx context.Context, email string) error {
	if f.step != StepEmail {
		return ErrInvalidStep
	}
	e := f.engine
	defer e.observeStep(time.Now())

	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return ErrNotRegistered
	}

	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, email, clientIPFromContext(ctx)); err != nil {
			if errors.Is(err, ErrRateLimited) || errors.Is(err, limiters.ErrEmailLookupRateLimited) {
				e.metricInc(MetricEmailRateLimited)
				e.emitAudit(ctx, auditEventEmailRateLimited, false, "", f.id, ErrRateLimited, nil)
				return ErrRateLimited
			}
			return f.transient(ctx, "email_limiter", err)
		}
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricEmailNotRegistered)
			e.emitAudit(ctx, auditEventEmailNotRegistered, false, "", f.id, ErrNotRegistered, nil)
			return ErrNotRegistered
		}
		return f.transient(ctx, "find_user", err)
	}

	if user.TwoFactorEnabled {
		f.email = email
		f.userID = user.UserID
		f.advance(StepPassword)
		return nil
	}

	if err := e.otp.SendOTP(ctx, email); err != nil {
		return f.transient(ctx, "send_otp", err)
	}
	f.email = email
	f.userID = user.UserID
	f.advance(StepCode)
	e.metricInc(MetricEmailCodeSent)
	e.emitAudit(ctx, auditEventEmailCodeSent, true, user.UserID, f.id, nil, nil)
	return nil
}

// SubmitPassword verifies the password of a two-factor account. secret is
// zeroed before SubmitPassword returns, whatever the outcome.
func (f *Flow) SubmitPassword(ctx context.Context, secret []byte) error {
	defer password.Wipe(secret)

	if f.step != StepPassword {
		return ErrInvalidStep
	}
	if f.exhausted {
		return ErrAttemptsExhausted
	}
	e := f.engine
	defer e.observeStep(time.Now())

	check, err := e.store.VerifyPassword(ctx, f.userID, secret)
	if err != nil {
		return f.transient(ctx, "verify_password", err)
	}
	if !check.OK {
		return f.fail(ctx, auditEventPasswordFailure, MetricPasswordFailure)
	}
	if check.RequiresTwoFactor && !f.deviceTrusted(ctx) {
		f.requireSecondFactor(ctx)
		return nil
	}
	return f.complete(ctx, false)
}

// SubmitEmailCode verifies the emailed code. A malformed code counts as a
// wrong one.
func (f *Flow) SubmitEmailCode(ctx context.Context, code string) error {
	if f.step != StepCode {
		return ErrInvalidStep
	}
	if f.exhausted {
		return ErrAttemptsExhausted
	}
	e := f.engine
	defer e.observeStep(time.Now())

	code = stripSpaces(code)
	if !isDigits(code, CodeCells) {
		f.code.Clear()
		return f.fail(ctx, auditEventEmailCodeFailure, MetricEmailCodeFailure)
	}
	if f.verifiedBefore(code) {
		return f.complete(ctx, false)
	}

	res, err := e.otp.VerifyOTP(ctx, f.email, code)
	if err != nil {
		return f.transient(ctx, "verify_otp", err)
	}
	if !res.OK {
		f.code.Clear()
		return f.fail(ctx, auditEventEmailCodeFailure, MetricEmailCodeFailure)
	}
	if res.RequiresTwoFactor && !f.deviceTrusted(ctx) {
		f.requireSecondFactor(ctx)
		return nil
	}
	f.markVerified(code)
	return f.complete(ctx, false)
}

// SubmitTOTP verifies an authenticator code. A wrong code clears the code
// cells and returns focus to the first one.
func (f *Flow) SubmitTOTP(ctx context.Context, code string) error {
	if f.step != StepTwoFactor {
		return ErrInvalidStep
	}
	if f.exhausted {
		return ErrAttemptsExhausted
	}
	e := f.engine
	defer e.observeStep(time.Now())

	code = stripSpaces(code)
	if f.verifiedBefore(code) {
		return f.complete(ctx, true)
	}

	user, err := e.store.FindUserByID(ctx, f.userID)
	if err != nil {
		return f.transient(ctx, "find_user", err)
	}

	err = flows.RunVerifyTOTP(ctx, twoFactorUser(user), code, e.twoFactorDeps)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrTwoFactorNotEnabled):
		f.code.Clear()
		return f.fail(ctx, "", noMetric)
	default:
		return f.transient(ctx, "verify_totp", err)
	}
	f.markVerified(code)
	return f.complete(ctx, true)
}

// SubmitBackupCode consumes one backup code. On failure the text field keeps
// its content.
func (f *Flow) SubmitBackupCode(ctx context.Context, code string) error {
	if f.step != StepBackupCode {
		return ErrInvalidStep
	}
	if f.exhausted {
		return ErrAttemptsExhausted
	}
	e := f.engine
	defer e.observeStep(time.Now())

	f.backupCode = code
	if f.verifiedBefore(backupcode.Normalize(code)) {
		return f.complete(ctx, true)
	}

	remaining, err := flows.RunConsumeBackupCode(ctx, f.userID, code, e.backupCodeDeps)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrTwoFactorNotEnabled):
		return f.fail(ctx, "", noMetric)
	default:
		return f.transient(ctx, "consume_backup_code", err)
	}

	f.markVerified(backupcode.Normalize(code))
	if remaining == 0 {
		e.logger.Info("last backup code used", zap.String("user_id", f.userID))
	}
	return f.complete(ctx, true)
}

// UseBackupCode switches from the authenticator prompt to the backup code
// field. The failure count carries over.
func (f *Flow) UseBackupCode() error {
	if f.step != StepTwoFactor {
		return ErrInvalidStep
	}
	f.step = StepBackupCode
	f.code.Clear()
	return nil
}

// UseAuthenticator switches back from the backup code field.
func (f *Flow) UseAuthenticator() error {
	if f.step != StepBackupCode {
		return ErrInvalidStep
	}
	f.step = StepTwoFactor
	f.backupCode = ""
	return nil
}

// InputCode writes value into the code cells starting at index. When the
// last empty cell is filled the code is submitted for the current step and
// the submission result is returned.
func (f *Flow) InputCode(ctx context.Context, index int, value string) error {
	if f.step != StepCode && f.step != StepTwoFactor {
		return ErrInvalidStep
	}
	if !f.code.Set(index, value) {
		return nil
	}
	code := f.code.Value()
	if f.step == StepCode {
		return f.SubmitEmailCode(ctx, code)
	}
	return f.SubmitTOTP(ctx, code)
}

// Resend mails a new code. On success the failure count, the exhausted flag
// and the code cells are reset.
func (f *Flow) Resend(ctx context.Context) error {
	if f.step != StepCode {
		return ErrInvalidStep
	}
	e := f.engine
	if err := e.otp.SendOTP(ctx, f.email); err != nil {
		return f.transient(ctx, "send_otp", err)
	}
	f.failures = 0
	f.exhausted = false
	f.code.Clear()
	e.metricInc(MetricEmailCodeSent)
	e.emitAudit(ctx, auditEventEmailCodeSent, true, f.userID, f.id, nil, func() map[string]string {
		return map[string]string{"resend": "true"}
	})
	return nil
}

// GoBack returns to StepEmail and forgets the email, counters and buffers.
func (f *Flow) GoBack() error {
	if f.step == StepSuccess {
		return ErrInvalidStep
	}
	f.reset()
	return nil
}

// markVerified remembers an accepted code until completion. Verification is
// single use (the TOTP step is claimed, a backup or email code is consumed),
// so a retry after a failed session issuance must not verify again.
func (f *Flow) markVerified(code string) {
	f.verified = f.verifiedHash(code)
}

func (f *Flow) verifiedBefore(code string) bool {
	if f.verified == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(f.verified), []byte(f.verifiedHash(code))) == 1
}

func (f *Flow) verifiedHash(code string) string {
	return internal.HashToken(f.step.String() + ":" + code)
}

func (f *Flow) requireSecondFactor(ctx context.Context) {
	f.advance(StepTwoFactor)
	f.engine.metricInc(MetricTwoFactorRequired)
	f.engine.emitAudit(ctx, auditEventTwoFactorRequired, true, f.userID, f.id, nil, nil)
}

// deviceTrusted reports whether the request carries a trusted-device token
// for the flow's user. Lookup errors mean "not trusted".
func (f *Flow) deviceTrusted(ctx context.Context) bool {
	e := f.engine
	if !e.config.TrustedDevice.Enabled {
		return false
	}
	token := deviceTokenFromContext(ctx)
	if token == "" {
		return false
	}
	ok, err := e.devices.IsTrusted(ctx, f.userID, internal.HashToken(token))
	if err != nil {
		e.logger.Warn("trusted device lookup failed", zap.String("user_id", f.userID), zap.Error(err))
		return false
	}
	if ok {
		e.metricInc(MetricTrustedDeviceBypass)
	}
	return ok
}

// complete issues the session and moves to StepSuccess. secondFactor marks
// completion through TOTP or a backup code, the only path that may register
// a trusted device.
func (f *Flow) complete(ctx context.Context, secondFactor bool) error {
	e := f.engine

	user, err := e.store.FindUserByID(ctx, f.userID)
	if err != nil {
		return f.transient(ctx, "find_user", err)
	}
	token, err := e.sessions.Issue(ctx, session.Identity{
		UserID:        user.UserID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		return f.transient(ctx, "issue_session", err)
	}

	if secondFactor && f.trustDevice && e.config.TrustedDevice.Enabled {
		f.issueDeviceToken(ctx)
	}

	f.step = StepSuccess
	f.failures = 0
	f.exhausted = false
	f.code.Clear()
	f.backupCode = ""
	f.verified = ""
	f.session = &token

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, f.userID, f.id, nil, func() map[string]string {
		return map[string]string{"second_factor": boolString(secondFactor)}
	})
	return nil
}

// issueDeviceToken is best effort; sign-in succeeds without it.
func (f *Flow) issueDeviceToken(ctx context.Context) {
	e := f.engine
	token, err := internal.NewDeviceToken()
	if err != nil {
		e.logger.Error("device token generation failed", zap.Error(err))
		return
	}
	if err := e.devices.Trust(ctx, f.userID, internal.HashToken(token), e.config.TrustedDevice.TTL); err != nil {
		e.logger.Warn("trusted device save failed", zap.String("user_id", f.userID), zap.Error(err))
		return
	}
	f.deviceToken = token
	e.metricInc(MetricTrustedDeviceIssued)
	e.emitAudit(ctx, auditEventTrustedDeviceIssued, true, f.userID, f.id, nil, nil)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
