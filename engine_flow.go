package authflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/internal/stores"
)

// StartFlow creates a persisted attempt at StepEmail. Transports that span
// several requests keep Flow.ID on the client and call LoadFlow and SaveFlow
// around each step.
func (e *Engine) StartFlow(ctx context.Context) (*Flow, error) {
	if e == nil || e.attempts == nil {
		return nil, ErrEngineNotReady
	}

	f := e.NewFlow()
	f.id = uuid.NewString()
	rec := f.record()
	if err := e.attempts.Create(ctx, f.id, rec, e.config.Attempts.TTL); err != nil {
		return nil, e.mapAttemptError("create", err)
	}
	f.revision = rec.Revision

	e.metricInc(MetricSignInStarted)
	e.emitAudit(ctx, auditEventSignInStarted, true, "", f.id, nil, nil)
	return f, nil
}

// LoadFlow restores a persisted attempt. Expired or unknown ids return
// ErrAttemptNotFound.
func (e *Engine) LoadFlow(ctx context.Context, id string) (*Flow, error) {
	if e == nil || e.attempts == nil {
		return nil, ErrEngineNotReady
	}
	if id == "" {
		return nil, ErrAttemptNotFound
	}
	rec, err := e.attempts.Get(ctx, id)
	if err != nil {
		return nil, e.mapAttemptError("load", err)
	}
	return e.flowFromRecord(id, rec), nil
}

// SaveFlow persists f and extends its lifetime. A flow at StepSuccess is
// deleted instead, since nothing may resume it. If another request saved
// the same attempt since f was loaded, SaveFlow returns ErrAttemptConflict.
func (e *Engine) SaveFlow(ctx context.Context, f *Flow) error {
	if e == nil || e.attempts == nil || f == nil {
		return ErrEngineNotReady
	}
	if f.id == "" {
		return ErrAttemptNotFound
	}
	if f.step == StepSuccess {
		return e.DiscardFlow(ctx, f.id)
	}

	rec := f.record()
	if err := e.attempts.Update(ctx, f.id, rec, e.config.Attempts.TTL); err != nil {
		return e.mapAttemptError("save", err)
	}
	f.revision = rec.Revision
	return nil
}

// DiscardFlow deletes a persisted attempt. Unknown ids are not an error.
func (e *Engine) DiscardFlow(ctx context.Context, id string) error {
	if e == nil || e.attempts == nil {
		return ErrEngineNotReady
	}
	if err := e.attempts.Delete(ctx, id); err != nil {
		return e.mapAttemptError("discard", err)
	}
	return nil
}

func (e *Engine) mapAttemptError(op string, err error) error {
	switch {
	case errors.Is(err, stores.ErrAttemptNotFound):
		return ErrAttemptNotFound
	case errors.Is(err, stores.ErrAttemptConflict):
		return ErrAttemptConflict
	default:
		e.metricInc(MetricBackendUnavailable)
		e.logger.Warn("sign-in attempt store unavailable", zap.String("op", op), zap.Error(err))
		return ErrUnavailable
	}
}
