package authflow

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/internal/audit"
	"github.com/PHPxCODER/rdp-website-sub000/internal/emailotp"
	"github.com/PHPxCODER/rdp-website-sub000/internal/limiters"
	"github.com/PHPxCODER/rdp-website-sub000/internal/stores"
	"github.com/PHPxCODER/rdp-website-sub000/totp"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     CredentialStore
	otp       OTPFacility
	mailer    Mailer
	limiter   EmailLimiter
	sessions  SessionIssuer
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing attempts, email codes, trusted devices,
// the TOTP replay guard and pending enrollments.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithOTPFacility replaces the built-in email code facility.
func (b *Builder) WithOTPFacility(otp OTPFacility) *Builder {
	b.otp = otp
	return b
}

// WithMailer sets the delivery channel of the built-in email code facility.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithEmailLimiter replaces the built-in Redis email lookup limiter.
func (b *Builder) WithEmailLimiter(l EmailLimiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) WithSessionIssuer(s SessionIssuer) *Builder {
	b.sessions = s
	return b
}

// WithAuditSink sets the sink and enables audit dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.sessions == nil {
		return nil, errors.New("session issuer required")
	}
	if b.otp == nil && b.mailer == nil {
		return nil, errors.New("OTP facility or mailer required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- BACKUP CODE VAULT --------
	vault, err := backupcode.NewVault(
		backupcode.Key{ID: cfg.BackupCodes.KeyID, Secret: cfg.BackupCodes.Key},
		cfg.BackupCodes.PreviousKeys...,
	)
	if err != nil {
		return nil, err
	}

	// -------- TOTP --------
	totpCfg := totp.DefaultConfig()
	totpCfg.Issuer = cfg.TOTP.Issuer
	totpCfg.Period = cfg.TOTP.Period
	totpCfg.Digits = cfg.TOTP.Digits
	totpCfg.Skew = cfg.TOTP.Skew
	totpCfg.Algorithm = cfg.TOTP.Algorithm
	manager, err := totp.New(totpCfg)
	if err != nil {
		return nil, err
	}

	// -------- REDIS STORES --------
	prefix := cfg.RedisPrefix
	e := &Engine{
		config:      cfg,
		store:       b.store,
		sessions:    b.sessions,
		logger:      logger,
		vault:       vault,
		totp:        manager,
		attempts:    stores.NewAttemptStore(b.redis, prefix+":attempt"),
		devices:     stores.NewTrustedDeviceStore(b.redis, prefix+":device"),
		replay:      stores.NewReplayGuard(b.redis, prefix+":totp-step"),
		enrollments: stores.NewEnrollmentStore(b.redis, prefix+":enroll"),
		metrics:     NewMetrics(cfg.Metrics),
		auditSink:   b.auditSink,
	}

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- EMAIL CODES --------
	e.otp = b.otp
	if e.otp == nil {
		svc := emailotp.NewService(
			emailotp.Config{TTL: cfg.EmailOTP.TTL, MaxAttempts: cfg.EmailOTP.MaxAttempts},
			emailotp.NewStore(b.redis, prefix+":otp"),
			b.mailer,
			e.emailRequiresTwoFactor,
		)
		e.otp = emailOTPAdapter{svc: svc}
	}

	// -------- EMAIL LOOKUP LIMITER --------
	e.limiter = b.limiter
	if e.limiter == nil && cfg.EmailLookup.Enabled {
		e.limiter = limiters.NewEmailLookupLimiter(b.redis, limiters.EmailLookupConfig{
			MaxPerEmail: cfg.EmailLookup.MaxPerEmail,
			MaxPerIP:    cfg.EmailLookup.MaxPerIP,
			Window:      cfg.EmailLookup.Window,
			Prefix:      prefix + ":lookup",
		})
	}

	e.twoFactorDeps = e.buildTwoFactorDeps()
	e.backupCodeDeps = e.buildBackupCodeDeps()

	b.built = true
	return e, nil
}
