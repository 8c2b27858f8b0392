package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/httpapi"
	"github.com/PHPxCODER/rdp-website-sub000/internal/config"
	"github.com/PHPxCODER/rdp-website-sub000/internal/keysource"
	"github.com/PHPxCODER/rdp-website-sub000/mailer"
	otelexport "github.com/PHPxCODER/rdp-website-sub000/metrics/export/otel"
	promexport "github.com/PHPxCODER/rdp-website-sub000/metrics/export/prometheus"
	"github.com/PHPxCODER/rdp-website-sub000/password"
	"github.com/PHPxCODER/rdp-website-sub000/session"
	"github.com/PHPxCODER/rdp-website-sub000/store/memory"
	"github.com/PHPxCODER/rdp-website-sub000/store/postgres"
)

const shutdownTimeout = 10 * time.Second

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var cleanup closers
	defer cleanup.run()

	// -------- KEYS --------
	backupKey, err := keysource.Resolve(ctx, keysource.Source{
		Hex:           cfg.BackupCodes.KeyHex,
		KMSCiphertext: cfg.BackupCodes.KMSCiphertext,
		Region:        cfg.BackupCodes.AWSRegion,
	})
	if err != nil {
		return fmt.Errorf("backup code key: %w", err)
	}
	previous, err := previousKeys(cfg.BackupCodes.Previous)
	if err != nil {
		return err
	}
	signingKey, err := hex.DecodeString(cfg.Session.SigningKeyHex)
	if err != nil {
		return fmt.Errorf("session signing key: %w", err)
	}

	// -------- REDIS --------
	rdb, err := openRedis(ctx, cfg.Redis, logger, &cleanup)
	if err != nil {
		return err
	}

	// -------- CREDENTIAL STORE --------
	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Database, hasher, logger, &cleanup)
	if err != nil {
		return err
	}

	// -------- MAIL --------
	var mail authflow.Mailer
	if cfg.SMTP.Host != "" {
		mail, err = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("SMTP_HOST not set, sign-in codes are written to the log")
		mail = mailer.NewLog(logger)
	}

	// -------- AUDIT --------
	var sink authflow.AuditSink = authflow.NewZapSink(logger.Named("audit"))
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink = authflow.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, logger)
	}

	// -------- SESSIONS --------
	issuer, err := session.NewIssuer(session.Config{
		TTL:          cfg.Session.TTL,
		PrivateKey:   signingKey,
		Issuer:       cfg.Session.Issuer,
		Audience:     cfg.Session.Audience,
		CookieDomain: cfg.Session.CookieDomain,
		Secure:       cfg.HTTP.SecureCookies,
	})
	if err != nil {
		return err
	}

	// -------- ENGINE --------
	engineCfg := authflow.DefaultConfig()
	engineCfg.ProductionMode = cfg.ProductionMode
	engineCfg.BackupCodes.KeyID = cfg.BackupCodes.KeyID
	engineCfg.BackupCodes.Key = backupKey
	engineCfg.BackupCodes.PreviousKeys = previous
	engineCfg.Audit.Enabled = true
	engineCfg.Metrics.EnableLatencyHistograms = true
	for _, w := range engineCfg.Lint() {
		logger.Warn("engine config", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	engine, err := authflow.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mail).
		WithSessionIssuer(issuer).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	cleanup.add(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Warn("engine close", zap.Error(err))
		}
	})

	// -------- METRICS --------
	provider := sdkmetric.NewMeterProvider()
	cleanup.add(func() { _ = provider.Shutdown(context.Background()) })
	otelExporter, err := otelexport.New(provider.Meter("github.com/PHPxCODER/rdp-website-sub000"), engine)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = otelExporter.Close() })
	prom := promexport.New(engine)

	// -------- HTTP --------
	api := httpapi.New(engine, issuer, logger, httpapi.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SecureCookies:  cfg.HTTP.SecureCookies,
		CookieDomain:   cfg.Session.CookieDomain,
		Ready: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	servers := []*http.Server{{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.HTTP.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.HTTP.MetricsAddr,
			Handler:           prom.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var firstErr error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return g.Wait()
}

func previousKeys(hexKeys map[string]string) ([]backupcode.Key, error) {
	keys := make([]backupcode.Key, 0, len(hexKeys))
	for id, h := range hexKeys {
		secret, err := keysource.FromHex(h)
		if err != nil {
			return nil, fmt.Errorf("previous backup code key %q: %w", id, err)
		}
		keys = append(keys, backupcode.Key{ID: id, Secret: secret})
	}
	return keys, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger, cleanup *closers) (redis.UniversalClient, error) {
	addr := cfg.Addr
	if cfg.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("embedded redis: %w", err)
		}
		cleanup.add(mr.Close)
		addr = mr.Addr()
		logger.Warn("using embedded redis, state is lost on restart", zap.String("addr", addr))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	cleanup.add(func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, hasher *password.Hasher, logger *zap.Logger, cleanup *closers) (authflow.CredentialStore, error) {
	if cfg.DSN == "" {
		logger.Warn("DATABASE_URL not set, using in-memory credential store")
		return memory.New(hasher), nil
	}

	db, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { _ = db.Close() })
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	return postgres.New(db, hasher), nil
}
