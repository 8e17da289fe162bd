package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chartcache"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	aggregations  *prometheus.HistogramVec
	applied       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	symbols       prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Derived series served from cache",
			},
			[]string{"kind"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Derived series that had to be computed",
			},
			[]string{"kind"},
		),
		aggregations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Full aggregation time per resolution",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"resolution"},
		),
		applied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "base_bars_applied_total",
				Help:      "Incremental base bars by outcome",
			},
			[]string{"outcome"},
		),
		invalidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Cache invalidations by reason",
			},
			[]string{"reason"},
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Entries evicted by bound enforcement",
			},
			[]string{"kind"},
		),
		symbols: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_symbols",
				Help:      "Symbols currently held by the registry",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCacheHit(kind string) {
	r.cacheHits.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordCacheMiss(kind string) {
	r.cacheMisses.WithLabelValues(kind).Inc()
}

// RecordAggregation observes one full aggregation pass.
func (r *Recorder) RecordAggregation(resolution int64, seconds float64) {
	r.aggregations.WithLabelValues(strconv.FormatInt(resolution, 10)).Observe(seconds)
}

func (r *Recorder) RecordApply(outcome string) {
	r.applied.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordInvalidation(reason string) {
	r.invalidations.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordEviction(kind string, n int) {
	r.evictions.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) RecordSymbols(n int) {
	r.symbols.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
