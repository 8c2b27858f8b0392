package emailotp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type captureMailer struct {
	codes []string
	err   error
}

func (m *captureMailer) SendSignInCode(_ context.Context, _ string, code string, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) last() string {
	return m.codes[len(m.codes)-1]
}

func newTestService(t *testing.T, mailer Mailer, twoFactor bool) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(Config{TTL: time.Minute, MaxAttempts: 3}, NewStore(rdb, "test:otp"), mailer,
		func(context.Context, string) (bool, error) { return twoFactor, nil })
	return svc, mr
}

func TestSendAndVerify(t *testing.T) {
	mailer := &captureMailer{}
	svc, _ := newTestService(t, mailer, false)
	ctx := context.Background()

	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	res, err := svc.VerifyOTP(ctx, "user@example.com", mailer.last())
	if err != nil || !res.OK || res.RequiresTwoFactor {
		t.Fatalf("expected success without 2FA, got %+v %v", res, err)
	}

	res, err = svc.VerifyOTP(ctx, "user@example.com", mailer.last())
	if err != nil || res.OK {
		t.Fatalf("expected code to be single use, got %+v %v", res, err)
	}
}

func TestVerifyReportsTwoFactor(t *testing.T) {
	mailer := &captureMailer{}
	svc, _ := newTestService(t, mailer, true)
	ctx := context.Background()

	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	res, err := svc.VerifyOTP(ctx, "user@example.com", mailer.last())
	if err != nil || !res.OK || !res.RequiresTwoFactor {
		t.Fatalf("expected 2FA flag, got %+v %v", res, err)
	}
}

func TestResendReplacesCode(t *testing.T) {
	mailer := &captureMailer{}
	svc, _ := newTestService(t, mailer, false)
	ctx := context.Background()

	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	first := mailer.last()
	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	second := mailer.last()
	if first == second {
		t.Skip("random codes collided")
	}

	if res, _ := svc.VerifyOTP(ctx, "user@example.com", first); res.OK {
		t.Fatal("expected previous code to be invalidated")
	}
	if res, _ := svc.VerifyOTP(ctx, "user@example.com", second); !res.OK {
		t.Fatal("expected latest code to verify")
	}
}

func TestAttemptCapDeletesCode(t *testing.T) {
	mailer := &captureMailer{}
	svc, mr := newTestService(t, mailer, false)
	svc.newCode = func() (string, error) { return "482913", nil }
	ctx := context.Background()

	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	for i := 0; i < 3; i++ {
		if res, err := svc.VerifyOTP(ctx, "user@example.com", "000000"); err != nil || res.OK {
			t.Fatalf("attempt %d: expected failure, got %+v %v", i, res, err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected record to be deleted, keys=%v", mr.Keys())
	}
	if res, _ := svc.VerifyOTP(ctx, "user@example.com", "482913"); res.OK {
		t.Fatal("expected correct code to fail after cap")
	}
}

func TestExpiredCode(t *testing.T) {
	mailer := &captureMailer{}
	svc, mr := newTestService(t, mailer, false)
	ctx := context.Background()

	if err := svc.SendOTP(ctx, "user@example.com"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if res, err := svc.VerifyOTP(ctx, "user@example.com", mailer.last()); err != nil || res.OK {
		t.Fatalf("expected expired code to fail, got %+v %v", res, err)
	}
}

func TestDeliveryFailureRemovesCode(t *testing.T) {
	mailer := &captureMailer{err: errors.New("smtp down")}
	svc, mr := newTestService(t, mailer, false)

	err := svc.SendOTP(context.Background(), "user@example.com")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("expected pending code to be removed")
	}
}

func TestRedisOutageIsAnError(t *testing.T) {
	mailer := &captureMailer{}
	svc, mr := newTestService(t, mailer, false)
	mr.Close()

	if err := svc.SendOTP(context.Background(), "user@example.com"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := svc.VerifyOTP(context.Background(), "user@example.com", "123456"); err == nil {
		t.Fatal("expected verify to surface backend error")
	}
}
