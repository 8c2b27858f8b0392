package backupcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testVault(t *testing.T, id string, fill byte, retired ...Key) *Vault {
	t.Helper()
	v, err := NewVault(Key{ID: id, Secret: bytes.Repeat([]byte{fill}, 32)}, retired...)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	return v
}

func TestDetect(t *testing.T) {
	v := testVault(t, "k1", 0x11)
	sealed, err := v.Seal([]string{"AB12CD34"})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	cases := []struct {
		in   string
		want Format
	}{
		{"", FormatEmpty},
		{"   ", FormatEmpty},
		{"AB12CD34,EF56AB78", FormatLegacy},
		{"12345678", FormatLegacy},
		{"12345678,87654321", FormatLegacy},
		{`["AB12CD34"]`, FormatJSON},
		{`{"unrelated":true}`, FormatLegacy},
		{sealed, FormatEncrypted},
	}
	for _, tc := range cases {
		if got := Detect(tc.in); got != tc.want {
			t.Fatalf("Detect(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestSealAndDecodeRoundTrip(t *testing.T) {
	v := testVault(t, "k1", 0x11)
	codes := []string{"AB12CD34", "EF56AB78"}

	sealed, err := v.Seal(codes)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if strings.Contains(sealed, "AB12CD34") {
		t.Fatal("sealed value leaks plaintext code")
	}

	got, format, err := v.Decode(sealed)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != FormatEncrypted {
		t.Fatalf("expected encrypted format, got %s", format)
	}
	if !reflect.DeepEqual(got, codes) {
		t.Fatalf("expected %v, got %v", codes, got)
	}
}

func TestDecodeLegacyTrimsAndDropsEmpty(t *testing.T) {
	v := testVault(t, "k1", 0x11)

	got, format, err := v.Decode(" AB12CD34 , ,EF56AB78,")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != FormatLegacy {
		t.Fatalf("expected legacy format, got %s", format)
	}
	if !reflect.DeepEqual(got, []string{"AB12CD34", "EF56AB78"}) {
		t.Fatalf("unexpected codes %v", got)
	}
}

func TestEncodeLegacyRoundTrip(t *testing.T) {
	codes := []string{"AB12CD34", "EF56AB78"}
	stored := EncodeLegacy(codes)
	if stored != "AB12CD34,EF56AB78" {
		t.Fatalf("unexpected legacy encoding %q", stored)
	}
	if Detect(stored) != FormatLegacy {
		t.Fatalf("expected %s, got %s", FormatLegacy, Detect(stored))
	}
	if got := ParseLegacy(stored); !reflect.DeepEqual(got, codes) {
		t.Fatalf("expected %v, got %v", codes, got)
	}
}

func TestDecodeRejectsTamperedEnvelope(t *testing.T) {
	v := testVault(t, "k1", 0x11)
	sealed, err := v.Seal([]string{"AB12CD34"})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	env.KeyID = "k1"
	ct := []byte(env.Ciphertext)
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	env.Ciphertext = string(ct)
	tampered, _ := json.Marshal(env)

	if _, _, err := v.Decode(string(tampered)); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecodeUnknownKey(t *testing.T) {
	a := testVault(t, "k1", 0x11)
	b := testVault(t, "k2", 0x22)

	sealed, err := a.Seal([]string{"AB12CD34"})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, _, err := b.Decode(sealed); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestMigrateLegacyIsIdempotent(t *testing.T) {
	v := testVault(t, "k1", 0x11)
	legacy := "AB12CD34, EF56AB78 ,,0011AAFF"

	first, changed, err := v.Migrate(legacy)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !changed {
		t.Fatal("expected legacy value to be migrated")
	}
	if Detect(first) != FormatEncrypted {
		t.Fatalf("expected encrypted result, got %s", Detect(first))
	}

	codes, _, err := v.Decode(first)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(codes, []string{"AB12CD34", "EF56AB78", "0011AAFF"}) {
		t.Fatalf("migrated content mismatch: %v", codes)
	}

	second, changed, err := v.Migrate(first)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if changed || second != first {
		t.Fatal("expected second migration to be a no-op")
	}
}

func TestMigrateEmptyIsNoop(t *testing.T) {
	v := testVault(t, "k1", 0x11)
	out, changed, err := v.Migrate("")
	if err != nil || changed || out != "" {
		t.Fatalf("expected no-op, got %q %v %v", out, changed, err)
	}
}

func TestMigrateResealsRetiredKey(t *testing.T) {
	oldKey := Key{ID: "k1", Secret: bytes.Repeat([]byte{0x11}, 32)}
	old := testVault(t, "k1", 0x11)
	sealed, err := old.Seal([]string{"AB12CD34"})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	rotated := testVault(t, "k2", 0x22, oldKey)
	next, changed, err := rotated.Migrate(sealed)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !changed {
		t.Fatal("expected re-seal under the current key")
	}
	env, ok := parseEnvelope(next)
	if !ok || env.KeyID != "k2" {
		t.Fatalf("expected envelope under k2, got %q", next)
	}
	codes, _, err := rotated.Decode(next)
	if err != nil || !reflect.DeepEqual(codes, []string{"AB12CD34"}) {
		t.Fatalf("unexpected decode %v %v", codes, err)
	}
}

func TestNewVaultValidatesKeys(t *testing.T) {
	if _, err := NewVault(Key{ID: "k1", Secret: []byte("short")}); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
	if _, err := NewVault(Key{Secret: bytes.Repeat([]byte{1}, 32)}); err == nil {
		t.Fatal("expected missing key id to fail")
	}
	good := Key{ID: "k1", Secret: bytes.Repeat([]byte{1}, 32)}
	if _, err := NewVault(good, good); err == nil {
		t.Fatal("expected duplicate retired key id to fail")
	}
}
