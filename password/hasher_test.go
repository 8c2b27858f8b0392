package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, testConfig())

	hash, err := h.Hash([]byte("P@ssw0rd-Ascii"))
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify([]byte("P@ssw0rd-Ascii"), hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify([]byte("wrong-password"), hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail cleanly: ok=%v err=%v", ok, err)
	}
}

func TestVerifyBcrypt(t *testing.T) {
	h := newTestHasher(t, testConfig())

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := h.Verify([]byte("legacy-password"), string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify([]byte("not-it-at-all"), string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch: ok=%v err=%v", ok, err)
	}

	rehash, err := h.NeedsRehash(string(legacy))
	if err != nil || !rehash {
		t.Fatal("expected bcrypt hashes to need rehash")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, testConfig())
	hash, err := weak.Hash([]byte("test-password"))
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if rehash, err := weak.NeedsRehash(hash); err != nil || rehash {
		t.Fatalf("expected same config not to need rehash: %v %v", rehash, err)
	}

	strong := newTestHasher(t, DefaultConfig())
	if rehash, err := strong.NeedsRehash(hash); err != nil || !rehash {
		t.Fatalf("expected weaker hash to need rehash: %v %v", rehash, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())

	for _, encoded := range []string{
		"not-a-phc-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$2b$04$short",
	} {
		if _, err := h.Verify([]byte("password-123"), encoded); err == nil {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	h := newTestHasher(t, testConfig())
	hash, err := h.Hash([]byte("version-test"))
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrong := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := h.Verify([]byte("version-test"), wrong); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestHashLengthLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPasswordBytes = 64
	h := newTestHasher(t, cfg)

	if _, err := h.Hash([]byte("short")); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := h.Hash([]byte(strings.Repeat("a", 65))); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}

	exact := []byte(strings.Repeat("b", 64))
	hash, err := h.Hash(exact)
	if err != nil {
		t.Fatalf("expected max-length password to be accepted: %v", err)
	}
	if ok, err := h.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify failed for max-length password: ok=%v err=%v", ok, err)
	}
	if _, err := h.Verify([]byte(strings.Repeat("c", 65)), hash); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected Verify to reject long password, got %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	h := newTestHasher(t, testConfig())

	if _, err := h.Hash([]byte(strings.Repeat("d", DefaultMaxPasswordBytes+1))); err == nil {
		t.Fatalf("expected password > %d bytes to be rejected", DefaultMaxPasswordBytes)
	}
	if _, err := h.Hash([]byte(strings.Repeat("e", DefaultMaxPasswordBytes))); err != nil {
		t.Fatalf("expected password of exactly %d bytes to be accepted: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := New(cfg); err == nil {
		t.Fatal("expected low memory config to be rejected")
	}
}

func TestWipe(t *testing.T) {
	b := []byte("secret-password")
	Wipe(b)
	for _, c := range b {
		if c != 0 {
			t.Fatal("expected buffer to be zeroed")
		}
	}
}
