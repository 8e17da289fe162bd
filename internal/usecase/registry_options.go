package usecase

import (
	"time"

	"ChartCache/internal/domain/repository"
	"ChartCache/internal/service/aggregate"
	"ChartCache/internal/service/series"
	"ChartCache/pkg/logger"
)

const (
	DefaultMaxSymbols            = 10
	DefaultWarmupInterval        = 60 * time.Second
	DefaultMinimumWarmupInterval = 10 * time.Second
)

type registryOptions struct {
	maxSymbols      int
	maxCacheSize    int
	warmupInterval  time.Duration
	minWarmup       time.Duration
	autoCleanup     bool
	cleanupInterval time.Duration
	log             *logger.Logger
	metrics         repository.Metrics
	aggregator      aggregate.Aggregator
	now             func() time.Time
}

// RegistryOption configures a SymbolRegistry.
type RegistryOption func(*registryOptions)

func WithMaxSymbols(n int) RegistryOption {
	return func(o *registryOptions) {
		if n > 0 {
			o.maxSymbols = n
		}
	}
}

// WithMaxCacheSize is forwarded to every series store.
func WithMaxCacheSize(n int) RegistryOption {
	return func(o *registryOptions) {
		if n > 0 {
			o.maxCacheSize = n
		}
	}
}

func WithDefaultWarmupInterval(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		if d > 0 {
			o.warmupInterval = d
		}
	}
}

// WithMinWarmupInterval sets the floor applied to every warm-up schedule.
func WithMinWarmupInterval(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		if d > 0 {
			o.minWarmup = d
		}
	}
}

func WithAutoCleanup(enabled bool, interval time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.autoCleanup = enabled
		o.cleanupInterval = interval
	}
}

func WithLogger(l *logger.Logger) RegistryOption {
	return func(o *registryOptions) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m repository.Metrics) RegistryOption {
	return func(o *registryOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithAggregator(a aggregate.Aggregator) RegistryOption {
	return func(o *registryOptions) {
		if a != nil {
			o.aggregator = a
		}
	}
}

// WithClock overrides the source of lastUpdate timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func (o registryOptions) storeOptions() []series.Option {
	return []series.Option{
		series.WithMaxCacheSize(o.maxCacheSize),
		series.WithAutoCleanup(o.autoCleanup, o.cleanupInterval),
		series.WithAggregator(o.aggregator),
		series.WithMetrics(o.metrics),
	}
}
