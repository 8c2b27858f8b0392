package authflow

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/internal/audit"
	"github.com/PHPxCODER/rdp-website-sub000/internal/flows"
	"github.com/PHPxCODER/rdp-website-sub000/internal/stores"
	"github.com/PHPxCODER/rdp-website-sub000/totp"
)

// Engine owns the sign-in dependencies and creates Flows. It is safe for
// concurrent use; each Flow it returns is not.
type Engine struct {
	config      Config
	store       CredentialStore
	otp         OTPFacility
	limiter     EmailLimiter
	sessions    SessionIssuer
	logger      *zap.Logger
	vault       *backupcode.Vault
	totp        *totp.Manager
	attempts    *stores.AttemptStore
	devices     *stores.TrustedDeviceStore
	replay      *stores.ReplayGuard
	enrollments *stores.EnrollmentStore
	audit       *audit.Dispatcher
	auditSink   AuditSink
	metrics     *Metrics

	twoFactorDeps  flows.TwoFactorDeps
	backupCodeDeps flows.BackupCodeDeps
}

// Close drains queued audit events and closes the audit sink when it holds
// resources.
//
// Close returns ctx.Err() if the drain does not finish in time.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	err := e.audit.Close(ctx)
	if c, ok := e.auditSink.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// AuditDropped returns how many audit events were discarded.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeStep(start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(MetricStepLatency, time.Since(start))
}

// flowMetricInc adapts MetricID counters to the int ids used by internal/flows.
func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) flowAudit(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string) {
	e.emitAudit(ctx, event, success, userID, "", err, metadata)
}

// emailRequiresTwoFactor backs the built-in email code facility.
func (e *Engine) emailRequiresTwoFactor(ctx context.Context, email string) (bool, error) {
	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.TwoFactorEnabled, nil
}

func isUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}
