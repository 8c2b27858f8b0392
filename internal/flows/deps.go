package flows

import (
	"context"

	"go.uber.org/zap"
)

// Deps groups the flow dependency sets built by the engine.
type Deps struct {
	BackupCodes BackupCodeDeps
	TwoFactor   TwoFactorDeps
}

// AuditFunc emits one audit event. metadata may be nil.
type AuditFunc func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)

func noopMetric(int) {}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func nopLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
