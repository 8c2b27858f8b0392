package backupcode

import (
	"encoding/json"
	"strings"
)

// Format identifies how a stored code set is encoded.
type Format uint8

const (
	FormatEmpty Format = iota
	FormatLegacy
	FormatJSON
	FormatEncrypted
)

func (f Format) String() string {
	switch f {
	case FormatEmpty:
		return "empty"
	case FormatLegacy:
		return "legacy"
	case FormatJSON:
		return "json"
	case FormatEncrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}

const envelopeVersion = 1

type envelope struct {
	Version    int    `json:"v"`
	KeyID      string `json:"kid"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"ct"`
}

// Detect classifies stored. JSON is tried first: a sealed envelope or a
// plain JSON array of strings. Anything else that is non-blank is legacy,
// including values such as "12345678" that happen to parse as a JSON number.
func Detect(stored string) Format {
	trimmed := strings.TrimSpace(stored)
	if trimmed == "" {
		return FormatEmpty
	}
	if _, ok := parseEnvelope(trimmed); ok {
		return FormatEncrypted
	}
	if _, ok := parseJSONList(trimmed); ok {
		return FormatJSON
	}
	return FormatLegacy
}

// ParseLegacy splits a comma-separated list, trimming entries and dropping
// empty ones.
func ParseLegacy(stored string) []string {
	parts := strings.Split(stored, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EncodeLegacy renders codes in the comma-separated plaintext format.
func EncodeLegacy(codes []string) string {
	return strings.Join(codes, ",")
}

func parseEnvelope(s string) (envelope, bool) {
	if !strings.HasPrefix(s, "{") {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return envelope{}, false
	}
	if env.Version <= 0 || env.Nonce == "" || env.Ciphertext == "" {
		return envelope{}, false
	}
	return env, true
}

func parseJSONList(s string) ([]string, bool) {
	if !strings.HasPrefix(s, "[") {
		return nil, false
	}
	var codes []string
	if err := json.Unmarshal([]byte(s), &codes); err != nil {
		return nil, false
	}
	return codes, true
}
