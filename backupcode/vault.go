package backupcode

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrKeySize is returned for keys that are not 32 bytes.
	ErrKeySize = errors.New("backupcode: key must be 32 bytes")
	// ErrUnknownKey is returned when an envelope names a key the vault does not hold.
	ErrUnknownKey = errors.New("backupcode: unknown key id")
	// ErrDecrypt is returned when an envelope fails authentication or decoding.
	ErrDecrypt = errors.New("backupcode: decrypt failed")
)

// Key is one AES-256 key and the id recorded in envelopes sealed with it.
type Key struct {
	ID     string
	Secret []byte
}

// Vault seals code sets with the current key and opens envelopes sealed
// with the current key or any retired key.
type Vault struct {
	keyID   string
	current cipher.AEAD
	keys    map[string]cipher.AEAD
}

// NewVault builds a vault sealing with current. Retired keys are only used
// to open existing envelopes.
func NewVault(current Key, retired ...Key) (*Vault, error) {
	current.ID = strings.TrimSpace(current.ID)
	if current.ID == "" {
		return nil, errors.New("backupcode: key id required")
	}
	aead, err := newAEAD(current.Secret)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		keyID:   current.ID,
		current: aead,
		keys:    map[string]cipher.AEAD{current.ID: aead},
	}
	for _, k := range retired {
		if k.ID == "" || k.ID == current.ID {
			return nil, fmt.Errorf("backupcode: invalid retired key id %q", k.ID)
		}
		a, err := newAEAD(k.Secret)
		if err != nil {
			return nil, fmt.Errorf("backupcode: retired key %q: %w", k.ID, err)
		}
		v.keys[k.ID] = a
	}
	return v, nil
}

// KeyID returns the id new envelopes are sealed under.
func (v *Vault) KeyID() string {
	return v.keyID
}

// Seal encodes codes as a JSON array and seals it into an envelope string.
func (v *Vault) Seal(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	plaintext, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, v.current.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := v.current.Seal(nil, nonce, plaintext, []byte(v.keyID))

	out, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		KeyID:      v.keyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decode returns the codes held in stored, whatever its format.
func (v *Vault) Decode(stored string) ([]string, Format, error) {
	trimmed := strings.TrimSpace(stored)
	format := Detect(trimmed)

	switch format {
	case FormatEmpty:
		return []string{}, format, nil
	case FormatEncrypted:
		env, _ := parseEnvelope(trimmed)
		codes, err := v.open(env)
		return codes, format, err
	case FormatJSON:
		codes, _ := parseJSONList(trimmed)
		return compact(codes), format, nil
	default:
		return ParseLegacy(trimmed), format, nil
	}
}

// Migrate rewrites stored into an envelope sealed with the current key.
// Empty values and envelopes already under the current key are returned
// unchanged with changed=false, so running Migrate twice is a no-op.
func (v *Vault) Migrate(stored string) (next string, changed bool, err error) {
	trimmed := strings.TrimSpace(stored)
	switch Detect(trimmed) {
	case FormatEmpty:
		return stored, false, nil
	case FormatEncrypted:
		env, _ := parseEnvelope(trimmed)
		if env.KeyID == v.keyID {
			return stored, false, nil
		}
	}

	codes, _, err := v.Decode(trimmed)
	if err != nil {
		return "", false, err
	}
	sealed, err := v.Seal(codes)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

func (v *Vault) open(env envelope) ([]string, error) {
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrDecrypt, env.Version)
	}
	aead, ok := v.keys[env.KeyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce", ErrDecrypt)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}
	plaintext, err := aead.Open(nil, nonce, ct, []byte(env.KeyID))
	if err != nil {
		return nil, ErrDecrypt
	}

	var codes []string
	if err := json.Unmarshal(plaintext, &codes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return compact(codes), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func compact(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
