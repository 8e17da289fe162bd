package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type point struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	if err := mc.Set(ctx, "p", []point{{1, 2}}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []point
	if err := mc.Get(ctx, "p", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0] != (point{1, 2}) {
		t.Fatalf("unexpected %+v", got)
	}
	var s string
	_ = mc.Set(ctx, "s", "raw", 0)
	if err := mc.Get(ctx, "s", &s); err != nil || s != "raw" {
		t.Fatalf("string round trip: %q %v", s, err)
	}
	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	_ = mc.Set(ctx, "k", "v", time.Minute)
	if ok, _ := mc.Exists(ctx, "k"); !ok {
		t.Fatal("expected key")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatal("expected expiry")
	}
}

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("first lock must succeed")
	}
	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); ok {
		t.Fatal("second lock must fail")
	}
	_ = mc.Unlock(ctx, "lock")
	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("lock after unlock must succeed")
	}
}

func TestMemoryDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	for _, k := range []string{"snapshot:BTC", "snapshot:ETH", "lock:BTC"} {
		_ = mc.Set(ctx, k, "x", 0)
	}
	if err := mc.DeleteByPattern(ctx, "snapshot:*"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mc.Len() != 1 {
		t.Fatalf("expected only lock left, have %d", mc.Len())
	}
}

func TestMemoryMaxSize(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	_ = mc.Set(ctx, "a", "1", time.Minute)
	_ = mc.Set(ctx, "b", "2", time.Hour)
	_ = mc.Set(ctx, "c", "3", time.Hour)
	if mc.Len() != 2 {
		t.Fatalf("expected 2 entries, have %d", mc.Len())
	}
	if ok, _ := mc.Exists(ctx, "a"); ok {
		t.Fatal("entry closest to expiry should be evicted")
	}
}
