package authflow

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/PHPxCODER/rdp-website-sub000/session"
)

var errBackend = errors.New("backend down")

type fakeStore struct {
	mu          sync.Mutex
	users       map[string]UserRecord
	passwords   map[string]string
	verifyCalls int
	findErr     error
	verifyErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]UserRecord{},
		passwords: map[string]string{},
	}
}

func (s *fakeStore) add(u UserRecord, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if password != "" {
		u.PasswordHash = "set"
		s.passwords[u.UserID] = password
	}
	s.users[u.UserID] = u
}

func (s *fakeStore) user(id string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *fakeStore) FindUserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return UserRecord{}, s.findErr
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (s *fakeStore) FindUserByID(_ context.Context, id string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (s *fakeStore) VerifyPassword(_ context.Context, id string, password []byte) (PasswordCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return PasswordCheck{}, s.verifyErr
	}
	u, ok := s.users[id]
	if !ok || s.passwords[id] != string(password) {
		return PasswordCheck{}, nil
	}
	return PasswordCheck{OK: true, RequiresTwoFactor: u.TwoFactorEnabled}, nil
}

func (s *fakeStore) UpdateBackupCodes(_ context.Context, id, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.BackupCodes != expected {
		return false, nil
	}
	u.BackupCodes = next
	s.users[id] = u
	return true, nil
}

func (s *fakeStore) SetTwoFactorEnabled(_ context.Context, id, secret, codes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TwoFactorEnabled = true
	u.TwoFactorSecret = secret
	u.BackupCodes = codes
	s.users[id] = u
	return nil
}

func (s *fakeStore) ClearTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TwoFactorEnabled = false
	u.TwoFactorSecret = ""
	u.BackupCodes = ""
	s.users[id] = u
	return nil
}

// fakeOTP accepts a fixed code per email.
type fakeOTP struct {
	mu      sync.Mutex
	codes   map[string]string
	sent    []string
	sendErr error
	store   *fakeStore
}

func (o *fakeOTP) SendOTP(_ context.Context, email string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendErr != nil {
		return o.sendErr
	}
	o.sent = append(o.sent, email)
	return nil
}

func (o *fakeOTP) VerifyOTP(ctx context.Context, email, code string) (OTPResult, error) {
	o.mu.Lock()
	want := o.codes[email]
	o.mu.Unlock()
	if want == "" || code != want {
		return OTPResult{}, nil
	}
	u, err := o.store.FindUserByEmail(ctx, email)
	if err != nil {
		return OTPResult{}, err
	}
	return OTPResult{OK: true, RequiresTwoFactor: u.TwoFactorEnabled}, nil
}

func (o *fakeOTP) sentCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type testEnv struct {
	engine *Engine
	store  *fakeStore
	otp    *fakeOTP
	redis  *miniredis.Miniredis
	issuer   *session.Issuer
	sessions *switchableIssuer
	audit    *auditRecorder
}

// switchableIssuer fails every Issue call while issueErr is set.
type switchableIssuer struct {
	inner *session.Issuer

	mu       sync.Mutex
	issueErr error
	issued   int
}

func (s *switchableIssuer) Issue(ctx context.Context, id session.Identity) (session.Token, error) {
	s.mu.Lock()
	err := s.issueErr
	s.mu.Unlock()
	if err != nil {
		return session.Token{}, err
	}
	tok, err := s.inner.Issue(ctx, id)
	if err == nil {
		s.mu.Lock()
		s.issued++
		s.mu.Unlock()
	}
	return tok, err
}

func (s *switchableIssuer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueErr = err
}

// auditRecorder collects audit events synchronously for assertions.
type auditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *auditRecorder) Emit(_ context.Context, e AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *auditRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackupCodes.Key = bytes.Repeat([]byte{0x42}, 32)
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr, rdb := newTestRedis(t)
	store := newFakeStore()
	otp := &fakeOTP{codes: map[string]string{}, store: store}
	issuer, err := session.NewIssuer(session.Config{
		SigningMethod: session.MethodHS256,
		PrivateKey:    bytes.Repeat([]byte{0x07}, 32),
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	recorder := &auditRecorder{}
	sessions := &switchableIssuer{inner: issuer}

	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithOTPFacility(otp).
		WithSessionIssuer(sessions).
		WithAuditSink(recorder).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	return &testEnv{engine: engine, store: store, otp: otp, redis: mr, issuer: issuer, sessions: sessions, audit: recorder}
}
