package authflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
)

// Config holds the sign-in engine policy. Start from DefaultConfig and
// override fields; Build calls Validate.
type Config struct {
	Attempts       AttemptsConfig
	TOTP           TOTPConfig
	BackupCodes    BackupCodeConfig
	EmailOTP       EmailOTPConfig
	EmailLookup    EmailLookupConfig
	TrustedDevice  TrustedDeviceConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	RedisPrefix    string
	ProductionMode bool
}

/*
====================================
ATTEMPTS CONFIG
====================================
*/

// AttemptsConfig bounds one sign-in attempt. MaxFailures applies to each
// step separately; TTL is the sliding lifetime of a persisted attempt.
type AttemptsConfig struct {
	MaxFailures int
	TTL         time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator codes and enrollment.
type TOTPConfig struct {
	Issuer                  string
	Period                  uint
	Digits                  int
	Skew                    uint
	Algorithm               string
	EnrollmentTTL           time.Duration
	EnforceReplayProtection bool
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig controls backup-code generation and the at-rest key.
// PreviousKeys open envelopes sealed before a key rotation.
type BackupCodeConfig struct {
	Count             int
	Length            int
	KeyID             string
	Key               []byte
	PreviousKeys      []backupcode.Key
	MaxConsumeRetries int
}

/*
====================================
EMAIL OTP CONFIG
====================================
*/

// EmailOTPConfig configures the built-in email code facility. It is unused
// when a custom OTPFacility is supplied.
type EmailOTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
EMAIL LOOKUP CONFIG
====================================
*/

// EmailLookupConfig configures the built-in Redis limiter for email
// submissions. It is unused when a custom EmailLimiter is supplied.
type EmailLookupConfig struct {
	Enabled     bool
	MaxPerEmail int
	MaxPerIP    int
	Window      time.Duration
}

// TrustedDeviceConfig controls how long a device skips the second factor.
type TrustedDeviceConfig struct {
	Enabled bool
	TTL     time.Duration
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the policy the site runs with, minus the backup-code
// key which must always be supplied.
func DefaultConfig() Config {
	return Config{
		Attempts: AttemptsConfig{
			MaxFailures: 3,
			TTL:         15 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:                  "RDP Hosting",
			Period:                  30,
			Digits:                  6,
			Skew:                    2,
			Algorithm:               "SHA1",
			EnrollmentTTL:           10 * time.Minute,
			EnforceReplayProtection: true,
		},
		BackupCodes: BackupCodeConfig{
			Count:             backupcode.DefaultCount,
			Length:            backupcode.DefaultLength,
			KeyID:             "k1",
			MaxConsumeRetries: 4,
		},
		EmailOTP: EmailOTPConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		EmailLookup: EmailLookupConfig{
			Enabled:     true,
			MaxPerEmail: 10,
			MaxPerIP:    30,
			Window:      time.Minute,
		},
		TrustedDevice: TrustedDeviceConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RedisPrefix: "signin",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.BackupCodes.Key = cloneBytes(cfg.BackupCodes.Key)
	if cfg.BackupCodes.PreviousKeys != nil {
		out.BackupCodes.PreviousKeys = make([]backupcode.Key, len(cfg.BackupCodes.PreviousKeys))
		for i, k := range cfg.BackupCodes.PreviousKeys {
			out.BackupCodes.PreviousKeys[i] = backupcode.Key{ID: k.ID, Secret: cloneBytes(k.Secret)}
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with. In
// ProductionMode it also rejects settings that weaken the sign-in path.
func (c *Config) Validate() error {
	// Attempts
	if c.Attempts.MaxFailures < 1 {
		return errors.New("Attempts MaxFailures must be >= 1")
	}
	if c.Attempts.TTL <= 0 {
		return errors.New("Attempts TTL must be > 0")
	}

	// TOTP
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Digits != 6 {
		return errors.New("TOTP Digits must be 6")
	}
	if c.TOTP.Skew > 10 {
		return errors.New("TOTP Skew must be <= 10")
	}
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.EnrollmentTTL <= 0 {
		return errors.New("TOTP EnrollmentTTL must be > 0")
	}

	// Backup codes
	if c.BackupCodes.Count < 1 {
		return errors.New("BackupCodes Count must be >= 1")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length%2 != 0 {
		return errors.New("BackupCodes Length must be an even number >= 8")
	}
	if c.BackupCodes.KeyID == "" {
		return errors.New("BackupCodes KeyID must be set")
	}
	if len(c.BackupCodes.Key) != 32 {
		return fmt.Errorf("BackupCodes Key must be 32 bytes, got %d", len(c.BackupCodes.Key))
	}
	if c.BackupCodes.MaxConsumeRetries < 1 {
		return errors.New("BackupCodes MaxConsumeRetries must be >= 1")
	}

	// Email OTP
	if c.EmailOTP.TTL <= 0 {
		return errors.New("EmailOTP TTL must be > 0")
	}
	if c.EmailOTP.MaxAttempts < 1 {
		return errors.New("EmailOTP MaxAttempts must be >= 1")
	}

	// Email lookup
	if c.EmailLookup.Enabled {
		if c.EmailLookup.MaxPerEmail <= 0 && c.EmailLookup.MaxPerIP <= 0 {
			return errors.New("EmailLookup requires MaxPerEmail or MaxPerIP when enabled")
		}
		if c.EmailLookup.Window <= 0 {
			return errors.New("EmailLookup Window must be > 0")
		}
	}

	if c.TrustedDevice.Enabled && c.TrustedDevice.TTL <= 0 {
		return errors.New("TrustedDevice TTL must be > 0 when enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.RedisPrefix == "" {
		return errors.New("RedisPrefix must be set")
	}

	if c.ProductionMode {
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if c.Attempts.MaxFailures > 5 {
			return errors.New("ProductionMode requires Attempts MaxFailures <= 5")
		}
		if !c.EmailLookup.Enabled {
			return errors.New("ProductionMode requires EmailLookup rate limiting")
		}
	}

	return nil
}

// LintWarning is an advisory finding that does not stop Build.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that are valid but unusual for a public site.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	if !c.ProductionMode {
		ws = append(ws, LintWarning{"production_mode_off", "ProductionMode is disabled"})
	}
	if c.Attempts.TTL > time.Hour {
		ws = append(ws, LintWarning{"attempt_ttl_long", "sign-in attempts live longer than an hour"})
	}
	if c.TOTP.Skew > 2 {
		ws = append(ws, LintWarning{"totp_skew_wide", "TOTP drift window is wider than two steps"})
	}
	if !c.TOTP.EnforceReplayProtection {
		ws = append(ws, LintWarning{"totp_replay_off", "TOTP codes can be reused inside the drift window"})
	}
	if !c.EmailLookup.Enabled {
		ws = append(ws, LintWarning{"email_lookup_unlimited", "email submissions are not rate limited"})
	}
	if c.TrustedDevice.Enabled && c.TrustedDevice.TTL > 90*24*time.Hour {
		ws = append(ws, LintWarning{"trusted_device_ttl_long", "trusted devices skip two-factor for more than 90 days"})
	}
	if len(c.BackupCodes.PreviousKeys) > 0 {
		ws = append(ws, LintWarning{"backup_key_rotation_pending", "previous backup-code keys are configured; run the migration"})
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		ws = append(ws, LintWarning{"audit_may_drop", "audit events are dropped when the buffer is full"})
	}
	return ws
}
