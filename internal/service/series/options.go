package series

import (
	"time"

	"ChartCache/internal/domain/repository"
	"ChartCache/internal/service/aggregate"
)

const (
	DefaultMaxCacheSize    = 50
	DefaultCleanupInterval = 5 * time.Minute
)

type options struct {
	maxCacheSize    int
	autoCleanup     bool
	cleanupInterval time.Duration
	aggregator      aggregate.Aggregator
	metrics         repository.Metrics
}

func defaultOptions() options {
	return options{
		maxCacheSize:    DefaultMaxCacheSize,
		autoCleanup:     true,
		cleanupInterval: DefaultCleanupInterval,
		aggregator:      aggregate.Default{},
		metrics:         repository.NopMetrics{},
	}
}

// Option configures a Store.
type Option func(*options)

// WithMaxCacheSize bounds the combined candle and scalar cache entries. Going
// over the bound evicts the oldest half of each cache, then single entries
// until the bound holds.
func WithMaxCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCacheSize = n
		}
	}
}

// WithAutoCleanup toggles the periodic cache trim. A zero interval keeps the
// default.
func WithAutoCleanup(enabled bool, interval time.Duration) Option {
	return func(o *options) {
		o.autoCleanup = enabled
		if interval > 0 {
			o.cleanupInterval = interval
		}
	}
}

func WithAggregator(a aggregate.Aggregator) Option {
	return func(o *options) {
		if a != nil {
			o.aggregator = a
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
