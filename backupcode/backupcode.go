// Package backupcode generates, consumes and stores single-use recovery
// codes.
//
// Codes are uppercase hex strings. Stored sets come in two formats: a legacy
// comma-separated plaintext list and the current AES-GCM sealed JSON
// envelope produced by [Vault]. [Detect] tells them apart and
// [Vault.Migrate] moves a stored value forward exactly once.
package backupcode

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

const (
	DefaultCount  = 10
	DefaultLength = 8
	MinLength     = 8
)

// ErrInvalidLength is returned for code lengths that are odd or below MinLength.
var ErrInvalidLength = errors.New("backupcode: length must be an even number >= 8")

// Generate returns count unique uppercase hex codes of the given length.
func Generate(count, length int) ([]string, error) {
	if count <= 0 {
		count = DefaultCount
	}
	if length < MinLength || length%2 != 0 {
		return nil, ErrInvalidLength
	}

	out := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	buf := make([]byte, length/2)
	for len(out) < count {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(buf))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// Normalize strips all whitespace and upper-cases code.
func Normalize(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code))
}

// Result is the outcome of Consume.
type Result struct {
	Valid     bool
	Remaining []string
}

// Consume checks submitted against current. On a match Remaining is a new
// slice without that single code; current is never modified.
func Consume(submitted string, current []string) Result {
	want := []byte(Normalize(submitted))

	match := -1
	if len(want) > 0 {
		for i, code := range current {
			if subtle.ConstantTimeCompare([]byte(Normalize(code)), want) == 1 && match < 0 {
				match = i
			}
		}
	}

	if match < 0 {
		remaining := make([]string, len(current))
		copy(remaining, current)
		return Result{Remaining: remaining}
	}

	remaining := make([]string, 0, len(current)-1)
	remaining = append(remaining, current[:match]...)
	remaining = append(remaining, current[match+1:]...)
	return Result{Valid: true, Remaining: remaining}
}
