package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestAttemptRoundTrip(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewAttemptStore(rdb, "t:attempt")
	ctx := context.Background()

	rec := &AttemptRecord{
		CreatedAt:   1700000000,
		Step:        3,
		Failures:    2,
		TrustDevice: true,
		Focus:       4,
		Cells:       [AttemptCodeCells]byte{'1', '2', '3', '4', 0, 0},
		Email:       "user@example.com",
		UserID:      "u-1",
		Verified:    "c0ffee",
	}
	if err := s.Create(ctx, "a1", rec, time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "a1", rec, time.Minute); !errors.Is(err, ErrAttemptExists) {
		t.Fatalf("expected ErrAttemptExists, got %v", err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestAttemptUpdateDetectsStaleRevision(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewAttemptStore(rdb, "")
	ctx := context.Background()

	if err := s.Create(ctx, "a1", &AttemptRecord{Email: "x@example.com"}, time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _ := s.Get(ctx, "a1")
	second, _ := s.Get(ctx, "a1")

	first.Failures = 1
	if err := s.Update(ctx, "a1", first, time.Minute); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if first.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", first.Revision)
	}

	second.Failures = 2
	if err := s.Update(ctx, "a1", second, time.Minute); !errors.Is(err, ErrAttemptConflict) {
		t.Fatalf("expected ErrAttemptConflict, got %v", err)
	}

	stored, _ := s.Get(ctx, "a1")
	if stored.Failures != 1 {
		t.Fatalf("expected winner's write to survive, got %d", stored.Failures)
	}
}

func TestAttemptExpiryAndDelete(t *testing.T) {
	rdb, mr := newTestRedis(t)
	s := NewAttemptStore(rdb, "")
	ctx := context.Background()

	rec := &AttemptRecord{Email: "x@example.com"}
	if err := s.Create(ctx, "a1", rec, time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if err := s.Update(ctx, "a1", rec, time.Minute); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected update of missing attempt to fail, got %v", err)
	}

	if err := s.Create(ctx, "a2", &AttemptRecord{}, time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, "a2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a2"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected deleted attempt to be gone, got %v", err)
	}
}

func TestAttemptCorruptRecordIsNotFound(t *testing.T) {
	rdb, mr := newTestRedis(t)
	s := NewAttemptStore(rdb, "p")
	if err := mr.Set("p:bad", "\x09garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Get(context.Background(), "bad"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
	if mr.Exists("p:bad") {
		t.Fatal("expected corrupt record to be removed")
	}
}

func TestAttemptBackendError(t *testing.T) {
	rdb, mr := newTestRedis(t)
	s := NewAttemptStore(rdb, "")
	mr.Close()
	if _, err := s.Get(context.Background(), "a1"); !errors.Is(err, ErrAttemptBackend) {
		t.Fatalf("expected ErrAttemptBackend, got %v", err)
	}
}

func TestEnrollmentStore(t *testing.T) {
	rdb, mr := newTestRedis(t)
	s := NewEnrollmentStore(rdb, "")
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Save(ctx, "u1", "SECRET", time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, err := s.Get(ctx, "u1"); err != nil || got != "SECRET" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatalf("expected pending secret to expire, got %v", err)
	}
}

func TestTrustedDeviceStore(t *testing.T) {
	rdb, _ := newTestRedis(t)
	s := NewTrustedDeviceStore(rdb, "")
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	if ok, err := s.IsTrusted(ctx, "u1", "h1"); err != nil || ok {
		t.Fatalf("expected unknown device, got %v %v", ok, err)
	}
	if err := s.Trust(ctx, "u1", "h1", time.Hour); err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if ok, err := s.IsTrusted(ctx, "u1", "h1"); err != nil || !ok {
		t.Fatalf("expected trusted device, got %v %v", ok, err)
	}
	if ok, _ := s.IsTrusted(ctx, "u2", "h1"); ok {
		t.Fatal("device trust must be per user")
	}

	now = now.Add(2 * time.Hour)
	if ok, _ := s.IsTrusted(ctx, "u1", "h1"); ok {
		t.Fatal("expected expired device to be untrusted")
	}

	now = time.Unix(1700000000, 0)
	_ = s.Trust(ctx, "u1", "h2", time.Hour)
	if err := s.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if ok, _ := s.IsTrusted(ctx, "u1", "h2"); ok {
		t.Fatal("expected revoked device to be untrusted")
	}
}

func TestReplayGuard(t *testing.T) {
	rdb, mr := newTestRedis(t)
	g := NewReplayGuard(rdb, "")
	ctx := context.Background()

	if ok, err := g.Claim(ctx, "u1", 100, time.Minute); err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	if ok, _ := g.Claim(ctx, "u1", 100, time.Minute); ok {
		t.Fatal("expected replayed step to be rejected")
	}
	if ok, _ := g.Claim(ctx, "u2", 100, time.Minute); !ok {
		t.Fatal("claims must be per user")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := g.Claim(ctx, "u1", 100, time.Minute); !ok {
		t.Fatal("expected claim to be released after ttl")
	}
}

func TestReplayGuardRejectsOlderSteps(t *testing.T) {
	rdb, mr := newTestRedis(t)
	g := NewReplayGuard(rdb, "")
	ctx := context.Background()

	if ok, err := g.Claim(ctx, "u1", 101, time.Minute); err != nil || !ok {
		t.Fatalf("claim 101: %v %v", ok, err)
	}
	if ok, _ := g.Claim(ctx, "u1", 100, time.Minute); ok {
		t.Fatal("an unused step older than the last accepted one must be rejected")
	}
	if ok, _ := g.Claim(ctx, "u1", 102, time.Minute); !ok {
		t.Fatal("expected newer step to be accepted")
	}
	if v, _ := mr.Get("signin:totp-step:u1"); v != "102" {
		t.Fatalf("expected last step 102, got %q", v)
	}

	mr.SetError("down")
	if _, err := g.Claim(ctx, "u1", 103, time.Minute); !errors.Is(err, ErrReplayBackend) {
		t.Fatalf("expected ErrReplayBackend, got %v", err)
	}
}
