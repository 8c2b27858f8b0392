package authflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/internal/stores"
	"github.com/PHPxCODER/rdp-website-sub000/session"
)

// Step is the position of a Flow in the sign-in state machine.
type Step uint8

const (
	StepEmail Step = iota
	StepPassword
	StepCode
	StepTwoFactor
	StepBackupCode
	StepSuccess
)

func (s Step) String() string {
	switch s {
	case StepEmail:
		return "email"
	case StepPassword:
		return "password"
	case StepCode:
		return "code"
	case StepTwoFactor:
		return "twoFactor"
	case StepBackupCode:
		return "backupCode"
	case StepSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalText renders the step name, so JSON carries "twoFactor" rather than 3.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Flow is one sign-in attempt. It walks
//
//	email -> password | code -> twoFactor <-> backupCode -> success
//
// and is not safe for concurrent use. Once it reaches StepSuccess every
// operation returns ErrInvalidStep.
type Flow struct {
	engine    *Engine
	id        string
	revision  uint64
	createdAt time.Time

	step        Step
	email       string
	userID      string
	failures    int
	exhausted   bool
	trustDevice bool
	code        CodeInput
	backupCode  string
	verified    string

	session     *session.Token
	deviceToken string
}

// AttemptState is a read-only view of a Flow suitable for rendering.
type AttemptState struct {
	ID                string            `json:"id,omitempty"`
	Step              Step              `json:"step"`
	Email             string            `json:"email,omitempty"`
	AttemptsRemaining int               `json:"attempts_remaining"`
	Exhausted         bool              `json:"exhausted"`
	TrustDevice       bool              `json:"trust_device"`
	CodeCells         [CodeCells]string `json:"code_cells"`
	CodeFocus         int               `json:"code_focus"`
	ShowAttempts      bool              `json:"show_attempts"`
}

// NewFlow starts an in-memory attempt at StepEmail. Use StartFlow for an
// attempt that outlives the request.
func (e *Engine) NewFlow() *Flow {
	return &Flow{
		engine:    e,
		createdAt: time.Now(),
		step:      StepEmail,
	}
}

// ID is empty for flows created by NewFlow.
func (f *Flow) ID() string { return f.id }

func (f *Flow) Step() Step { return f.step }

func (f *Flow) Email() string { return f.email }

// UserID is set once SubmitEmail found an account.
func (f *Flow) UserID() string { return f.userID }

func (f *Flow) Exhausted() bool { return f.exhausted }

// AttemptsRemaining is the number of wrong submissions left in the current step.
func (f *Flow) AttemptsRemaining() int {
	left := f.engine.config.Attempts.MaxFailures - f.failures
	if left < 0 {
		return 0
	}
	return left
}

// CodeInput exposes the six-cell buffer used by the code and twoFactor steps.
func (f *Flow) CodeInput() CodeInput { return f.code }

// BackupCodeText is the current content of the backup code field.
func (f *Flow) BackupCodeText() string { return f.backupCode }

// Session returns the issued token once the flow reached StepSuccess.
func (f *Flow) Session() (session.Token, bool) {
	if f.session == nil {
		return session.Token{}, false
	}
	return *f.session, true
}

// TrustedDeviceToken returns the token to hand back to the client when the
// user asked to trust this device and passed the second factor.
func (f *Flow) TrustedDeviceToken() string { return f.deviceToken }

// TrustDevice records whether the device should skip two-factor next time.
func (f *Flow) TrustDevice(trust bool) error {
	if f.step == StepSuccess {
		return ErrInvalidStep
	}
	f.trustDevice = trust
	return nil
}

// State snapshots the flow for a UI. Remaining attempts are meant to be shown
// on the password and code steps only.
func (f *Flow) State() AttemptState {
	return AttemptState{
		ID:                f.id,
		Step:              f.step,
		Email:             f.email,
		AttemptsRemaining: f.AttemptsRemaining(),
		Exhausted:         f.exhausted,
		TrustDevice:       f.trustDevice,
		CodeCells:         f.code.Cells(),
		CodeFocus:         f.code.Focus(),
		ShowAttempts:      f.step == StepPassword || f.step == StepCode,
	}
}

// advance moves to a new step and resets per-step state.
func (f *Flow) advance(step Step) {
	f.step = step
	f.failures = 0
	f.exhausted = false
	f.code.Clear()
	f.backupCode = ""
	f.verified = ""
}

func (f *Flow) reset() {
	f.advance(StepEmail)
	f.email = ""
	f.userID = ""
	f.trustDevice = false
	f.deviceToken = ""
}

// noMetric is passed to fail when the failure was already counted.
const noMetric = metricIDCount

// fail counts one wrong submission in the current step. An empty event skips
// the per-credential audit record.
func (f *Flow) fail(ctx context.Context, event string, metric MetricID) error {
	f.failures++
	f.engine.metricInc(metric)
	if f.failures >= f.engine.config.Attempts.MaxFailures {
		f.exhausted = true
		f.engine.metricInc(MetricAttemptsExhausted)
		f.engine.emitAudit(ctx, auditEventAttemptsExhausted, false, f.userID, f.id, ErrAttemptsExhausted, f.stepMetadata)
		return ErrAttemptsExhausted
	}
	if event != "" {
		f.engine.emitAudit(ctx, event, false, f.userID, f.id, ErrInvalidCredential, f.stepMetadata)
	}
	return ErrInvalidCredential
}

// transient logs err, clears input buffers and reports ErrUnavailable. It
// never counts as a failure.
func (f *Flow) transient(ctx context.Context, op string, err error) error {
	f.code.Clear()
	f.backupCode = ""
	f.engine.metricInc(MetricBackendUnavailable)
	f.engine.logger.Warn("sign-in step unavailable",
		zap.String("op", op),
		zap.String("step", f.step.String()),
		zap.String("attempt_id", f.id),
		zap.Error(err),
	)
	f.engine.emitAudit(ctx, auditEventBackendUnavailable, false, f.userID, f.id, ErrUnavailable, func() map[string]string {
		return map[string]string{"op": op}
	})
	return ErrUnavailable
}

func (f *Flow) stepMetadata() map[string]string {
	return map[string]string{"step": f.step.String()}
}

func (f *Flow) record() *stores.AttemptRecord {
	rec := &stores.AttemptRecord{
		Revision:    f.revision,
		CreatedAt:   f.createdAt.Unix(),
		Step:        uint8(f.step),
		Failures:    uint8(f.failures),
		Exhausted:   f.exhausted,
		TrustDevice: f.trustDevice,
		Focus:       uint8(f.code.focus),
		Email:       f.email,
		UserID:      f.userID,
		Verified:    f.verified,
	}
	rec.Cells = f.code.cells
	return rec
}

func (e *Engine) flowFromRecord(id string, rec *stores.AttemptRecord) *Flow {
	f := &Flow{
		engine:      e,
		id:          id,
		revision:    rec.Revision,
		createdAt:   time.Unix(rec.CreatedAt, 0),
		step:        Step(rec.Step),
		email:       rec.Email,
		userID:      rec.UserID,
		failures:    int(rec.Failures),
		exhausted:   rec.Exhausted,
		trustDevice: rec.TrustDevice,
		verified:    rec.Verified,
	}
	f.code.cells = rec.Cells
	f.code.focus = int(rec.Focus)
	if f.step > StepBackupCode {
		f.reset()
	}
	return f
}
