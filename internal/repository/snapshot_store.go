package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChartCache/internal/domain/repository"
	"ChartCache/pkg/cache"
)

const snapshotLockTTL = 30 * time.Second

// CacheSnapshotStore keeps base series snapshots in a cache.Service,
// normally Redis. Writes take a short per-symbol lock so replicas sharing
// one Redis do not interleave.
type CacheSnapshotStore struct {
	cache cache.Service
}

var _ repository.SnapshotStore = (*CacheSnapshotStore)(nil)

func NewCacheSnapshotStore(c cache.Service) *CacheSnapshotStore {
	return &CacheSnapshotStore{cache: c}
}

func snapshotKey(symbol string) string { return "snapshot:" + symbol }
func snapshotLock(symbol string) string { return "lock:snapshot:" + symbol }

func (s *CacheSnapshotStore) Save(ctx context.Context, snap repository.Snapshot, ttl time.Duration) error {
	ok, err := s.cache.TryLock(ctx, snapshotLock(snap.Symbol), snapshotLockTTL)
	if err != nil {
		return fmt.Errorf("lock snapshot %s: %w", snap.Symbol, err)
	}
	if !ok {
		return repository.ErrSnapshotLocked
	}
	defer func() { _ = s.cache.Unlock(context.WithoutCancel(ctx), snapshotLock(snap.Symbol)) }()

	if err := s.cache.Set(ctx, snapshotKey(snap.Symbol), snap, ttl); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

func (s *CacheSnapshotStore) Load(ctx context.Context, symbol string) (*repository.Snapshot, error) {
	var snap repository.Snapshot
	if err := s.cache.Get(ctx, snapshotKey(symbol), &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", symbol, err)
	}
	return &snap, nil
}

func (s *CacheSnapshotStore) Delete(ctx context.Context, symbol string) error {
	return s.cache.Delete(ctx, snapshotKey(symbol))
}

// Purge drops every stored snapshot.
func (s *CacheSnapshotStore) Purge(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, snapshotKey("*"))
}
