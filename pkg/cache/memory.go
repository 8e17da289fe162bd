package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

func (m memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service in process. Values are encoded the same
// way RedisCache encodes them, so callers see identical round trips.
// Expired entries are dropped lazily on access.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]memoryItem
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, Clock: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{
		data:    make(map[string]memoryItem),
		maxSize: cfg.MaxSize,
		now:     cfg.Clock,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLocked()
	}
	mc.data[key] = memoryItem{data: append([]byte(nil), data...), expireAt: mc.expiry(expiration)}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.lookupLocked(key)
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// DeleteByPattern accepts Redis style glob patterns.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key := range mc.data {
		if ok, err := path.Match(pattern, key); err != nil {
			return err
		} else if ok {
			delete(mc.data, key)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if _, ok := mc.lookupLocked(key); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.lookupLocked(key); ok {
		return false, nil
	}
	mc.data[key] = memoryItem{data: []byte("locked"), expireAt: mc.expiry(ttl)}
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache) lookupLocked(key string) (memoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(mc.now()) {
		delete(mc.data, key)
		return memoryItem{}, false
	}
	return item, true
}

func (mc *MemoryCache) expiry(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return mc.now().Add(d)
}

// evictLocked drops expired entries, or the one closest to expiry.
func (mc *MemoryCache) evictLocked() {
	now := mc.now()
	var (
		victim string
		soon   time.Time
	)
	for key, item := range mc.data {
		if item.expired(now) {
			delete(mc.data, key)
			continue
		}
		if victim == "" || (!item.expireAt.IsZero() && (soon.IsZero() || item.expireAt.Before(soon))) {
			victim, soon = key, item.expireAt
		}
	}
	if len(mc.data) >= mc.maxSize && victim != "" {
		delete(mc.data, victim)
	}
}
