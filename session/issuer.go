package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"

	DefaultTTL        = 30 * 24 * time.Hour
	DefaultCookieName = "session"
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrMissingUser  = errors.New("session: identity has no user id")
)

// Config configures an Issuer.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or a raw or PEM Ed25519 key.
	PrivateKey   []byte
	PublicKey    []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	KeyID        string
	CookieName   string
	CookieDomain string
	Secure       bool
}

// Identity is what a session token asserts about its holder.
type Identity struct {
	UserID        string
	Email         string
	Role          string
	EmailVerified bool
}

// Claims is the JWT payload.
type Claims struct {
	Email         string `json:"email"`
	Role          string `json:"role,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by c.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:        c.Subject,
		Email:         c.Email,
		Role:          c.Role,
		EmailVerified: c.EmailVerified,
	}
}

// Token is an issued session token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies session tokens. It is immutable after
// construction and safe for concurrent use.
type Issuer struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	now       func() time.Time
}

// NewIssuer validates cfg, applying defaults for TTL and cookie name.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("session: invalid TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("session: invalid leeway")
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultCookieName
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	is := &Issuer{cfg: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("session: hs256 requires a key of at least 32 bytes")
		}
		is.method = jwt.SigningMethodHS256
		is.signKey = cfg.PrivateKey
		is.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			if pub, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		is.method = jwt.SigningMethodEdDSA
		is.signKey = priv
		is.verifyKey = pub
	default:
		return nil, fmt.Errorf("session: unsupported signing method %q", cfg.SigningMethod)
	}
	return is, nil
}

// Issue signs a token for id.
func (is *Issuer) Issue(ctx context.Context, id Identity) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(id.UserID) == "" {
		return Token{}, ErrMissingUser
	}

	now := is.now().UTC().Truncate(time.Second)
	exp := now.Add(is.cfg.TTL)
	claims := Claims{
		Email:         id.Email,
		Role:          id.Role,
		EmailVerified: id.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    is.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if is.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{is.cfg.Audience}
	}

	tok := jwt.NewWithClaims(is.method, claims)
	if is.cfg.KeyID != "" {
		tok.Header["kid"] = is.cfg.KeyID
	}
	signed, err := tok.SignedString(is.signKey)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Parse verifies raw and returns its claims.
func (is *Issuer) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{is.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(is.now),
	}
	if is.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(is.cfg.Leeway))
	}
	if is.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(is.cfg.Issuer))
	}
	if is.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(is.cfg.Audience))
	}

	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if is.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != is.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return is.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CookieName returns the configured session cookie name.
func (is *Issuer) CookieName() string {
	return is.cfg.CookieName
}

// Cookie renders t as the session cookie.
func (is *Issuer) Cookie(t Token) *http.Cookie {
	maxAge := int(t.ExpiresAt.Sub(t.IssuedAt).Seconds())
	return &http.Cookie{
		Name:     is.cfg.CookieName,
		Value:    t.Value,
		Path:     "/",
		Domain:   is.cfg.CookieDomain,
		Expires:  t.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   is.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session cookie.
func (is *Issuer) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     is.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   is.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   is.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("session: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("session: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("session: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("session: invalid ed25519 public key type")
	}
	return edKey, nil
}
