package main

import (
	"context"

	"go.uber.org/zap"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
)

type userSource interface {
	ListUsersWithBackupCodes(ctx context.Context) ([]string, error)
	FindUserByID(ctx context.Context, userID string) (authflow.UserRecord, error)
}

type migrationStats struct {
	scanned  int
	migrated int
	current  int
	failed   int
}

func (s *migrationStats) merge(o migrationStats) {
	s.scanned += o.scanned
	s.migrated += o.migrated
	s.current += o.current
	s.failed += o.failed
}

type migrator struct {
	users  userSource
	engine *authflow.Engine
	// vault answers dry runs without writing.
	vault  *backupcode.Vault
	logger *zap.Logger
	dryRun bool
}

func (m *migrator) migrateAll(ctx context.Context) (migrationStats, error) {
	ids, err := m.users.ListUsersWithBackupCodes(ctx)
	if err != nil {
		return migrationStats{}, err
	}

	var stats migrationStats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.merge(m.migrateOne(ctx, id))
	}
	return stats, nil
}

// migrateOne never returns an error; failures are logged and counted so one
// bad record does not stop the run.
func (m *migrator) migrateOne(ctx context.Context, userID string) migrationStats {
	stats := migrationStats{scanned: 1}
	log := m.logger.With(zap.String("user_id", userID))

	if m.dryRun {
		u, err := m.users.FindUserByID(ctx, userID)
		if err != nil {
			log.Warn("load user failed", zap.Error(err))
			stats.failed++
			return stats
		}
		_, changed, err := m.vault.Migrate(u.BackupCodes)
		if err != nil {
			log.Warn("backup codes unreadable", zap.String("format", backupcode.Detect(u.BackupCodes).String()), zap.Error(err))
			stats.failed++
			return stats
		}
		if changed {
			log.Info("would migrate", zap.String("format", backupcode.Detect(u.BackupCodes).String()))
			stats.migrated++
		} else {
			stats.current++
		}
		return stats
	}

	changed, err := m.engine.MigrateBackupCodes(ctx, userID)
	switch {
	case err != nil:
		log.Warn("migration failed", zap.Error(err))
		stats.failed++
	case changed:
		log.Info("migrated")
		stats.migrated++
	default:
		stats.current++
	}
	return stats
}
