// Command backupcode-migrate rewrites stored backup codes from the legacy
// comma-separated format, or from an envelope sealed with a retired key,
// into an envelope sealed with the current key. Running it twice is safe.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/internal/config"
	"github.com/PHPxCODER/rdp-website-sub000/internal/keysource"
	"github.com/PHPxCODER/rdp-website-sub000/internal/logging"
	"github.com/PHPxCODER/rdp-website-sub000/mailer"
	"github.com/PHPxCODER/rdp-website-sub000/session"
	"github.com/PHPxCODER/rdp-website-sub000/store/postgres"
)

func main() {
	var (
		envFile    = flag.String("env-file", ".env", "dotenv file loaded before the environment")
		configFile = flag.String("config", "", "optional YAML config file")
		userID     = flag.String("user", "", "migrate a single user id instead of every user")
		dryRun     = flag.Bool("dry-run", false, "report what would change without writing")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, logger, *userID, *dryRun)
	if err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("scanned=%d migrated=%d current=%d failed=%d dry_run=%t\n",
		stats.scanned, stats.migrated, stats.current, stats.failed, *dryRun)
	if stats.failed > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, userID string, dryRun bool) (migrationStats, error) {
	key, err := keysource.Resolve(ctx, keysource.Source{
		Hex:           cfg.BackupCodes.KeyHex,
		KMSCiphertext: cfg.BackupCodes.KMSCiphertext,
		Region:        cfg.BackupCodes.AWSRegion,
	})
	if err != nil {
		return migrationStats{}, fmt.Errorf("backup code key: %w", err)
	}
	var previous []backupcode.Key
	for id, h := range cfg.BackupCodes.Previous {
		secret, err := keysource.FromHex(h)
		if err != nil {
			return migrationStats{}, fmt.Errorf("previous key %q: %w", id, err)
		}
		previous = append(previous, backupcode.Key{ID: id, Secret: secret})
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return migrationStats{}, err
	}
	defer db.Close()
	store := postgres.New(db, nil)

	engineCfg := authflow.DefaultConfig()
	engineCfg.BackupCodes.KeyID = cfg.BackupCodes.KeyID
	engineCfg.BackupCodes.Key = key
	engineCfg.BackupCodes.PreviousKeys = previous
	engineCfg.Audit.Enabled = true

	engine, cleanup, err := newMigrationEngine(engineCfg, store, logger)
	if err != nil {
		return migrationStats{}, err
	}
	defer cleanup()

	vault, err := backupcode.NewVault(backupcode.Key{ID: engineCfg.BackupCodes.KeyID, Secret: key}, previous...)
	if err != nil {
		return migrationStats{}, err
	}

	m := &migrator{
		users:  store,
		engine: engine,
		vault:  vault,
		logger: logger,
		dryRun: dryRun,
	}
	if userID != "" {
		return m.migrateOne(ctx, userID), nil
	}
	return m.migrateAll(ctx)
}

// newMigrationEngine builds an engine for backup-code maintenance only.
// Migration touches neither Redis nor sessions, so an embedded miniredis
// and a throwaway signing key satisfy the builder.
func newMigrationEngine(cfg authflow.Config, store authflow.CredentialStore, logger *zap.Logger) (*authflow.Engine, func(), error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		mr.Close()
		return nil, nil, err
	}
	issuer, err := session.NewIssuer(session.Config{PrivateKey: signingKey})
	if err != nil {
		mr.Close()
		return nil, nil, err
	}

	engine, err := authflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer.NewLog(logger)).
		WithSessionIssuer(issuer).
		WithAuditSink(authflow.NewZapSink(logger.Named("audit"))).
		WithLogger(logger).
		Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = engine.Close(context.Background())
		_ = rdb.Close()
		mr.Close()
	}
	return engine, cleanup, nil
}
