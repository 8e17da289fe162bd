package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(2, 1).WithClock(func() time.Time { return now })

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("a") {
		t.Fatal("third call should be limited")
	}
	if d := l.RetryAfter("a"); d <= 0 || d > time.Second {
		t.Fatalf("unexpected retry after %s", d)
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("token should refill after a second")
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(1, 1).WithClock(func() time.Time { return now })
	l.Allow("old")
	now = now.Add(time.Hour)
	l.Allow("new")
	if n := l.Prune(time.Minute); n != 1 {
		t.Fatalf("expected one pruned key, got %d", n)
	}
}
