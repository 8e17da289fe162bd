package repository

import (
	"context"

	"ChartCache/internal/domain/models"
)

// BarStream delivers realtime base bars.
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.BarEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// UpdatePublisher fans aggregated updates out to rendering sinks.
type UpdatePublisher interface {
	PublishUpdates(ctx context.Context, updates []models.BarUpdate) error
	Close() error
}

type Metrics interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordAggregation(resolution int64, seconds float64)
	RecordApply(outcome string)
	RecordInvalidation(reason string)
	RecordEviction(kind string, n int)
	RecordSymbols(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordCacheHit(string)            {}
func (NopMetrics) RecordCacheMiss(string)           {}
func (NopMetrics) RecordAggregation(int64, float64) {}
func (NopMetrics) RecordApply(string)               {}
func (NopMetrics) RecordInvalidation(string)        {}
func (NopMetrics) RecordEviction(string, int)       {}
func (NopMetrics) RecordSymbols(int)                {}
func (NopMetrics) RecordError(string)               {}
func (NopMetrics) RecordLatency(string, float64)    {}
