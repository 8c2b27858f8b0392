package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/password"
	"github.com/PHPxCODER/rdp-website-sub000/session"
	"github.com/PHPxCODER/rdp-website-sub000/store/memory"
)

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

func (m *captureMailer) last(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	engine *authflow.Engine
	store  *memory.Store
	mailer *captureMailer
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T, mutate ...func(*Options)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := password.New(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	store := memory.New(hasher)

	issuer, err := session.NewIssuer(session.Config{PrivateKey: bytes.Repeat([]byte{0x07}, 32)})
	require.NoError(t, err)

	cfg := authflow.DefaultConfig()
	cfg.BackupCodes.Key = bytes.Repeat([]byte{0x42}, 32)
	mailer := &captureMailer{codes: map[string]string{}}
	logger := zaptest.NewLogger(t)

	engine, err := authflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithSessionIssuer(issuer).
		WithLogger(logger).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	opts := Options{}
	for _, m := range mutate {
		m(&opts)
	}
	srv := httptest.NewServer(New(engine, issuer, logger, opts).Router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testServer{
		srv:    srv,
		client: &http.Client{Jar: jar},
		engine: engine,
		store:  store,
		mailer: mailer,
		redis:  mr,
	}
}

func (s *testServer) addUser(t *testing.T, email, secret string) authflow.UserRecord {
	t.Helper()
	var pw []byte
	if secret != "" {
		pw = []byte(secret)
	}
	u, err := s.store.AddUser(context.Background(), authflow.UserRecord{Email: email, EmailVerified: true, Role: "user"}, pw)
	require.NoError(t, err)
	return u
}

type result struct {
	status int
	raw    map[string]any
	resp   *http.Response
}

func (s *testServer) do(t *testing.T, method, path string, body any) result {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	data := new(bytes.Buffer)
	_, _ = data.ReadFrom(resp.Body)
	if data.Len() > 0 {
		_ = json.Unmarshal(data.Bytes(), &raw)
	}
	return result{status: resp.StatusCode, raw: raw, resp: resp}
}

func (r result) step() string {
	state, ok := r.raw["state"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := state["step"].(string)
	return s
}

func (r result) errorKind() string {
	e, ok := r.raw["error"].(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := e["kind"].(string)
	return kind
}

func (r result) state(key string) any {
	state, ok := r.raw["state"].(map[string]any)
	if !ok {
		return nil
	}
	return state[key]
}

func (r result) cookie(name string) *http.Cookie {
	for _, c := range r.resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// signInWithEmailCode walks email and the mailed code for an account
// without two-factor.
func (s *testServer) signInWithEmailCode(t *testing.T, email string) result {
	t.Helper()
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/signin", nil).status)
	res := s.do(t, http.MethodPost, "/signin/email", emailRequest{Email: email})
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "code", res.step())
	return s.do(t, http.MethodPost, "/signin/code", codeRequest{Code: s.mailer.last(email)})
}

// signInWithPassword walks email and password for a two-factor account.
func (s *testServer) signInWithPassword(t *testing.T, email, secret string) result {
	t.Helper()
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/signin", nil).status)
	res := s.do(t, http.MethodPost, "/signin/email", emailRequest{Email: email})
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "password", res.step())
	return s.do(t, http.MethodPost, "/signin/password", passwordRequest{Password: secret})
}

type enrolledUser struct {
	secret      string
	backupCodes []string
	// enrolledAt is when the confirming code was generated. Sign-in codes
	// must come from a later time step.
	enrolledAt time.Time
}

// addTwoFactorUser creates an account, signs in with an email code, enrolls
// an authenticator through the account routes and signs out again.
func (s *testServer) addTwoFactorUser(t *testing.T, email, secret string) enrolledUser {
	t.Helper()
	s.addUser(t, email, secret)
	require.Equal(t, "success", s.signInWithEmailCode(t, email).step())

	setup := s.do(t, http.MethodPost, "/account/2fa/setup", nil)
	require.Equal(t, http.StatusOK, setup.status)
	totpSecret, _ := setup.raw["secret"].(string)
	require.NotEmpty(t, totpSecret)

	now := time.Now()
	code, err := totp.GenerateCode(totpSecret, now)
	require.NoError(t, err)
	enable := s.do(t, http.MethodPost, "/account/2fa/enable", totpCodeRequest{Code: code})
	require.Equal(t, http.StatusOK, enable.status)
	raw, _ := enable.raw["backup_codes"].([]any)
	codes := make([]string, 0, len(raw))
	for _, c := range raw {
		codes = append(codes, c.(string))
	}

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/signout", nil).status)
	return enrolledUser{secret: totpSecret, backupCodes: codes, enrolledAt: now}
}

// code returns the authenticator code steps time steps after enrollment.
func (u enrolledUser) code(t *testing.T, steps int) string {
	t.Helper()
	code, err := totp.GenerateCode(u.secret, u.enrolledAt.Add(time.Duration(steps)*30*time.Second))
	require.NoError(t, err)
	return code
}
