package repository

import (
	"context"
	"errors"
	"time"

	"ChartCache/internal/domain/models"
)

// BarSource provides historical base bars for a symbol.
type BarSource interface {
	GetBaseBars(ctx context.Context, symbol string, from, to time.Time, baseRes int64, limit int) ([]models.Bar, error)
}

// ErrSnapshotLocked is returned by SnapshotStore.Save while another writer
// holds the symbol's snapshot lock.
var ErrSnapshotLocked = errors.New("snapshot: locked by another writer")

// BarSink persists base bars as they are ingested.
type BarSink interface {
	InsertBars(ctx context.Context, symbol string, bars []models.Bar) error
}

// Snapshot is a persisted base series.
type Snapshot struct {
	Symbol  string       `json:"symbol"`
	BaseRes int64        `json:"base_res"`
	SavedAt time.Time    `json:"saved_at"`
	Bars    []models.Bar `json:"bars"`
}

// SnapshotStore persists base series so a restart can skip the bulk load.
type SnapshotStore interface {
	Save(ctx context.Context, s Snapshot, ttl time.Duration) error
	// Load returns (nil, nil) when no snapshot exists.
	Load(ctx context.Context, symbol string) (*Snapshot, error)
	Delete(ctx context.Context, symbol string) error
}
