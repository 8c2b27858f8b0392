package authflow

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrNotRegistered, KindNotRegistered},
		{ErrInvalidCredential, KindInvalidCredential},
		{fmt.Errorf("step: %w", ErrAttemptsExhausted), KindAttemptsExhausted},
		{ErrRateLimited, KindRateLimited},
		{ErrUnavailable, KindTransient},
		{ErrInvalidStep, KindInvalidRequest},
		{ErrAttemptConflict, KindInvalidRequest},
		{ErrEnrollmentExpired, KindInvalidRequest},
		{errors.New("socket closed"), KindTransient},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("KindOf(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestErrorKindString(t *testing.T) {
	if KindAttemptsExhausted.String() == KindRateLimited.String() {
		t.Fatal("kinds must have distinct names")
	}
	if ErrorKind(200).String() != "unknown" {
		t.Fatalf("unexpected name %q", ErrorKind(200).String())
	}
}
