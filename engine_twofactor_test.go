package authflow

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PHPxCODER/rdp-website-sub000/backupcode"
	"github.com/PHPxCODER/rdp-website-sub000/session"
)

func TestTOTPEnrollmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(UserRecord{UserID: "u1", Email: "a@x.com", Role: "user", EmailVerified: true}, "hunter22")
	ctx := context.Background()

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URI == "" {
		t.Fatalf("incomplete enrollment %+v", enrollment)
	}

	now := time.Now()
	code, err := env.engine.totp.Code(enrollment.Secret, now)
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	codes, err := env.engine.ConfirmTOTPEnrollment(ctx, "u1", code)
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	if len(codes) != backupcode.DefaultCount {
		t.Fatalf("expected %d backup codes, got %d", backupcode.DefaultCount, len(codes))
	}

	u := env.store.user("u1")
	if !u.TwoFactorEnabled || u.TwoFactorSecret != enrollment.Secret {
		t.Fatal("expected two-factor enabled with the enrolled secret")
	}
	if backupcode.Detect(u.BackupCodes) != backupcode.FormatEncrypted {
		t.Fatal("backup codes must be stored sealed")
	}

	if _, err := env.engine.BeginTOTPEnrollment(ctx, "u1"); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}

	f := env.engine.NewFlow()
	_ = f.SubmitEmail(ctx, "a@x.com")
	if f.Step() != StepPassword {
		t.Fatalf("enrolled account must ask for a password, got %s", f.Step())
	}
	_ = f.SubmitPassword(ctx, []byte("hunter22"))
	if err := f.SubmitTOTP(ctx, code); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("confirming code must not sign in, got %v", err)
	}

	next, _ := env.engine.totp.Code(enrollment.Secret, now.Add(30*time.Second))
	if err := env.engine.DisableTwoFactor(ctx, "u1", next); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	u = env.store.user("u1")
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" || u.BackupCodes != "" {
		t.Fatalf("expected two-factor cleared, got %+v", u)
	}
	if err := env.engine.DisableTwoFactor(ctx, "u1", next); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
}

func TestTOTPEnrollmentRules(t *testing.T) {
	env := newTestEnv(t)
	env.addPlainUser("nopw", "n@x.com")
	env.store.add(UserRecord{UserID: "u1", Email: "a@x.com"}, "hunter22")
	ctx := context.Background()

	if _, err := env.engine.BeginTOTPEnrollment(ctx, "nopw"); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := env.engine.BeginTOTPEnrollment(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := env.engine.ConfirmTOTPEnrollment(ctx, "u1", "123456"); !errors.Is(err, ErrEnrollmentExpired) {
		t.Fatalf("expected ErrEnrollmentExpired without pending secret, got %v", err)
	}

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	wrong := "000000"
	if ok, _ := env.engine.totp.Verify(wrong, enrollment.Secret, time.Now()); ok {
		wrong = "111111"
	}
	if _, err := env.engine.ConfirmTOTPEnrollment(ctx, "u1", wrong); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if env.store.user("u1").TwoFactorEnabled {
		t.Fatal("wrong code must not enable two-factor")
	}

	env.redis.FastForward(11 * time.Minute)
	code, _ := env.engine.totp.Code(enrollment.Secret, time.Now())
	if _, err := env.engine.ConfirmTOTPEnrollment(ctx, "u1", code); !errors.Is(err, ErrEnrollmentExpired) {
		t.Fatalf("expected ErrEnrollmentExpired after TTL, got %v", err)
	}
}

func TestDisableTwoFactorRevokesTrustedDevices(t *testing.T) {
	env := newTestEnv(t)
	env.addTwoFactorUser(t, "u2", "b@x.com", "hunter22")
	ctx := context.Background()
	now := time.Now()

	f := env.engine.NewFlow()
	_ = f.SubmitEmail(ctx, "b@x.com")
	_ = f.SubmitPassword(ctx, []byte("hunter22"))
	_ = f.TrustDevice(true)
	if err := f.SubmitTOTP(ctx, env.totpCode(t, now)); err != nil {
		t.Fatalf("SubmitTOTP failed: %v", err)
	}
	token := f.TrustedDeviceToken()

	if err := env.engine.DisableTwoFactor(ctx, "u2", env.totpCode(t, now.Add(30*time.Second))); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}

	env.addTwoFactorUser(t, "u2", "b@x.com", "hunter22")
	g := env.engine.NewFlow()
	trusted := WithDeviceToken(ctx, token)
	_ = g.SubmitEmail(trusted, "b@x.com")
	_ = g.SubmitPassword(trusted, []byte("hunter22"))
	if g.Step() != StepTwoFactor {
		t.Fatalf("revoked device must not skip two-factor, got %s", g.Step())
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	env := newTestEnv(t)
	old := env.addTwoFactorUser(t, "u2", "b@x.com", "hunter22")
	ctx := context.Background()

	if _, err := env.engine.RegenerateBackupCodes(ctx, "u2", env.wrongTOTP(t)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	fresh, err := env.engine.RegenerateBackupCodes(ctx, "u2", env.totpCode(t, time.Now()))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != len(old) {
		t.Fatalf("expected %d codes, got %d", len(old), len(fresh))
	}

	f := env.engine.NewFlow()
	_ = f.SubmitEmail(ctx, "b@x.com")
	_ = f.SubmitPassword(ctx, []byte("hunter22"))
	_ = f.UseBackupCode()
	if err := f.SubmitBackupCode(ctx, old[0]); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("old code must be rejected, got %v", err)
	}
	if err := f.SubmitBackupCode(ctx, fresh[0]); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestMigrateBackupCodesFromLegacy(t *testing.T) {
	env := newTestEnv(t)
	legacy := backupcode.EncodeLegacy([]string{"AAAA1111", "BBBB2222", "CCCC3333"})
	env.store.add(UserRecord{
		UserID:           "u3",
		Email:            "c@x.com",
		TwoFactorEnabled: true,
		TwoFactorSecret:  testSecret,
		BackupCodes:      legacy,
	}, "hunter22")
	ctx := context.Background()

	changed, err := env.engine.MigrateBackupCodes(ctx, "u3")
	if err != nil || !changed {
		t.Fatalf("expected migration, got %v %v", changed, err)
	}
	stored := env.store.user("u3").BackupCodes
	if backupcode.Detect(stored) != backupcode.FormatEncrypted {
		t.Fatalf("expected sealed envelope, got %q", stored)
	}

	changed, err = env.engine.MigrateBackupCodes(ctx, "u3")
	if err != nil || changed {
		t.Fatalf("second run must be a no-op, got %v %v", changed, err)
	}
	if env.store.user("u3").BackupCodes != stored {
		t.Fatal("second run rewrote the record")
	}

	if n, err := env.engine.BackupCodesRemaining(ctx, "u3"); err != nil || n != 3 {
		t.Fatalf("expected 3 codes after migration, got %d %v", n, err)
	}
}

func TestMigrateBackupCodesAfterKeyRotation(t *testing.T) {
	first := newTestEnv(t)
	codes := first.addTwoFactorUser(t, "u2", "b@x.com", "hunter22")
	sealed := first.store.user("u2").BackupCodes

	env := newTestEnv(t, func(c *Config) {
		c.BackupCodes.PreviousKeys = []backupcode.Key{{ID: c.BackupCodes.KeyID, Secret: c.BackupCodes.Key}}
		c.BackupCodes.KeyID = "k2"
		c.BackupCodes.Key = bytes.Repeat([]byte{0x24}, 32)
	})
	env.store.add(UserRecord{
		UserID:           "u2",
		Email:            "b@x.com",
		TwoFactorEnabled: true,
		TwoFactorSecret:  testSecret,
		BackupCodes:      sealed,
	}, "hunter22")
	ctx := context.Background()

	changed, err := env.engine.MigrateBackupCodes(ctx, "u2")
	if err != nil || !changed {
		t.Fatalf("expected re-seal under new key, got %v %v", changed, err)
	}
	if env.store.user("u2").BackupCodes == sealed {
		t.Fatal("record still sealed with the retired key")
	}

	f := env.engine.NewFlow()
	_ = f.SubmitEmail(ctx, "b@x.com")
	_ = f.SubmitPassword(ctx, []byte("hunter22"))
	_ = f.UseBackupCode()
	if err := f.SubmitBackupCode(ctx, codes[1]); err != nil {
		t.Fatalf("code sealed before rotation rejected: %v", err)
	}
}

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendSignInCode(_ context.Context, email, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

func TestBuilderWithMailerUsesRedisCodes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newFakeStore()
	store.add(UserRecord{UserID: "u1", Email: "a@x.com"}, "")
	mailer := &captureMailer{codes: map[string]string{}}
	issuer, err := session.NewIssuer(session.Config{PrivateKey: bytes.Repeat([]byte{0x07}, 32)})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithSessionIssuer(issuer).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx := context.Background()

	f := engine.NewFlow()
	if err := f.SubmitEmail(ctx, "a@x.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	code := mailer.code("a@x.com")
	if len(code) != CodeCells {
		t.Fatalf("expected a %d digit code, got %q", CodeCells, code)
	}
	if err := f.SubmitEmailCode(ctx, code); err != nil {
		t.Fatalf("SubmitEmailCode failed: %v", err)
	}
	if f.Step() != StepSuccess {
		t.Fatalf("expected success, got %s", f.Step())
	}
}

func TestBuilderRequirements(t *testing.T) {
	_, rdb := newTestRedis(t)
	issuer, _ := session.NewIssuer(session.Config{PrivateKey: bytes.Repeat([]byte{0x07}, 32)})
	store := newFakeStore()
	otp := &fakeOTP{codes: map[string]string{}, store: store}

	tests := []struct {
		name  string
		build func() *Builder
	}{
		{"no redis", func() *Builder {
			return New().WithConfig(testConfig()).WithCredentialStore(store).WithOTPFacility(otp).WithSessionIssuer(issuer)
		}},
		{"no store", func() *Builder {
			return New().WithConfig(testConfig()).WithRedis(rdb).WithOTPFacility(otp).WithSessionIssuer(issuer)
		}},
		{"no sessions", func() *Builder {
			return New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialStore(store).WithOTPFacility(otp)
		}},
		{"no otp or mailer", func() *Builder {
			return New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialStore(store).WithSessionIssuer(issuer)
		}},
		{"invalid config", func() *Builder {
			return New().WithConfig(DefaultConfig()).WithRedis(rdb).WithCredentialStore(store).WithOTPFacility(otp).WithSessionIssuer(issuer)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build().Build(); err == nil {
				t.Fatal("expected Build to fail")
			}
		})
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialStore(store).WithOTPFacility(otp).WithSessionIssuer(issuer)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}
