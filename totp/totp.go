package totp

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrMissingAccount is returned when an enrollment has no account label.
	ErrMissingAccount = errors.New("totp: account name required")
	// ErrMissingIssuer is returned when neither the call nor the config names an issuer.
	ErrMissingIssuer = errors.New("totp: issuer required")
)

// Config controls secret generation and the accepted drift window.
type Config struct {
	Issuer     string
	Period     uint
	Digits     int
	Skew       uint
	SecretSize uint
	Algorithm  string
	QRSize     int
}

// DefaultConfig returns 6-digit SHA1 codes on a 30 second period with a
// drift window of two steps in either direction.
func DefaultConfig() Config {
	return Config{
		Period:     30,
		Digits:     6,
		Skew:       2,
		SecretSize: 32,
		Algorithm:  "SHA1",
		QRSize:     256,
	}
}

// Enrollment is what a user needs to add the account to an authenticator app.
type Enrollment struct {
	Secret string
	URI    string
	QRCode []byte
}

// Manager generates secrets and verifies codes. It holds no mutable state.
type Manager struct {
	cfg    Config
	digits otp.Digits
	alg    otp.Algorithm
}

// New validates cfg and returns a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Period == 0 {
		return nil, errors.New("totp: period must be > 0")
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("totp: digits must be 6 or 8")
	}
	if cfg.SecretSize < 20 {
		return nil, errors.New("totp: secret size must be >= 20 bytes")
	}
	if cfg.Skew > 10 {
		return nil, errors.New("totp: skew must be <= 10")
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	alg, err := parseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		digits: otp.Digits(cfg.Digits),
		alg:    alg,
	}, nil
}

// Generate creates a fresh secret for account. An empty issuer falls back to
// the configured one.
func (m *Manager) Generate(account, issuer string) (*Enrollment, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, ErrMissingAccount
	}
	if issuer == "" {
		issuer = m.cfg.Issuer
	}
	if issuer == "" {
		return nil, ErrMissingIssuer
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      m.cfg.Period,
		SecretSize:  m.cfg.SecretSize,
		Digits:      m.digits,
		Algorithm:   m.alg,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}

	img, err := key.Image(m.cfg.QRSize, m.cfg.QRSize)
	if err != nil {
		return nil, fmt.Errorf("totp: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("totp: encode qr: %w", err)
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: buf.Bytes(),
	}, nil
}

// Verify reports whether code is valid for secret at now and, if so, the
// time step it matched. Malformed codes and undecodable secrets are invalid.
func (m *Manager) Verify(code, secret string, now time.Time) (bool, int64) {
	code = strings.TrimSpace(code)
	if len(code) != m.cfg.Digits || !isNumeric(code) || secret == "" {
		return false, 0
	}

	period := int64(m.cfg.Period)
	skew := int64(m.cfg.Skew)
	base := now.Unix() / period

	for offset := -skew; offset <= skew; offset++ {
		step := base + offset
		if step < 0 {
			continue
		}
		want, err := m.codeAt(secret, time.Unix(step*period, 0))
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, step
		}
	}

	return false, 0
}

// Code returns the code for secret at t.
func (m *Manager) Code(secret string, t time.Time) (string, error) {
	return m.codeAt(secret, t)
}

// Window is how long a matched step stays inside the accepted drift window.
func (m *Manager) Window() time.Duration {
	return time.Duration(2*m.cfg.Skew+1) * time.Duration(m.cfg.Period) * time.Second
}

func (m *Manager) codeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    m.cfg.Period,
		Digits:    m.digits,
		Algorithm: m.alg,
	})
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("totp: unsupported algorithm %q", name)
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
