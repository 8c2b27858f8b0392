package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewOTP(t *testing.T) {
	code, err := NewOTP(6)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in %q", code)
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected short OTP to be rejected")
	}
}

func TestNewDeviceToken(t *testing.T) {
	a, err := NewDeviceToken()
	if err != nil {
		t.Fatalf("NewDeviceToken: %v", err)
	}
	b, _ := NewDeviceToken()
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil || len(raw) != 32 {
		t.Fatalf("unexpected token encoding %q", a)
	}
}

func TestHashEmailNormalizes(t *testing.T) {
	if HashEmail(" User@Example.COM ") != HashEmail("user@example.com") {
		t.Fatal("expected case and whitespace to be ignored")
	}
	if len(HashToken("x")) != 64 {
		t.Fatal("expected hex sha256")
	}
}
