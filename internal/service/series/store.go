package series

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/service/aggregate"
	"ChartCache/internal/service/cache"
)

type singleKey struct {
	res    int64
	method models.Method
}

// Store owns the base series of one symbol and memoises every resolution
// derived from it. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	baseRes int64
	base    []models.Bar
	ohlc    *cache.Ordered[int64, *models.AggregatedSeries]
	single  *cache.Ordered[singleKey, []models.SingleValue]
	opts    options

	stop      chan struct{}
	done      chan struct{}
	destroyed bool
}

// New creates an empty store at baseRes seconds.
func New(baseRes int64, opts ...Option) (*Store, error) {
	if baseRes <= 0 {
		return nil, fmt.Errorf("series: base resolution %d: %w", baseRes, aggregate.ErrInvalidResolution)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		baseRes: baseRes,
		ohlc:    cache.NewOrdered[int64, *models.AggregatedSeries](),
		single:  cache.NewOrdered[singleKey, []models.SingleValue](),
		opts:    o,
	}
	if o.autoCleanup {
		s.startCleanup()
	}
	return s, nil
}

func (s *Store) BaseResolution() int64 { return s.baseRes }

// SetBaseBars replaces the base series and drops every derived entry.
func (s *Store) SetBaseBars(bars []models.Bar) {
	base := cloneBars(bars)
	sort.SliceStable(base, func(i, j int) bool { return base[i].Time < base[j].Time })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base
	s.clearLocked("reload")
}

// ApplyBaseBar folds one base bar into the series and every warm resolution.
func (s *Store) ApplyBaseBar(bar models.Bar) models.ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.applyLocked(bar)
	s.opts.metrics.RecordApply(out.String())
	return out
}

// ApplyBaseBars applies bars in order.
func (s *Store) ApplyBaseBars(bars []models.Bar) []models.ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ApplyOutcome, len(bars))
	for i, b := range bars {
		out[i] = s.applyLocked(b)
		s.opts.metrics.RecordApply(out[i].String())
	}
	return out
}

func (s *Store) applyLocked(bar models.Bar) models.ApplyOutcome {
	bar = cloneBar(bar)
	n := len(s.base)
	if n == 0 || bar.Time > s.base[n-1].Time {
		s.base = append(s.base, bar)
		s.mergeLocked(bar)
		return models.Appended
	}
	if bar.Time == s.base[n-1].Time {
		s.base[n-1] = bar
		s.rebuildLastLocked()
		return models.Corrected
	}
	for i := n - 2; i >= 0 && s.base[i].Time >= bar.Time; i-- {
		if s.base[i].Time == bar.Time {
			s.base[i] = bar
			s.clearLocked("backfill")
			return models.Backfilled
		}
	}
	return models.Dropped
}

func (s *Store) mergeLocked(bar models.Bar) {
	for _, res := range s.ohlc.Keys() {
		series, _ := s.ohlc.Get(res)
		if err := s.opts.aggregator.MergeIncremental(series, bar, res); err != nil {
			s.ohlc.Delete(res)
			s.opts.metrics.RecordError("merge")
		}
	}
	s.invalidateSingleLocked("append")
}

func (s *Store) rebuildLastLocked() {
	last := s.base[len(s.base)-1].Time
	for _, res := range s.ohlc.Keys() {
		series, _ := s.ohlc.Get(res)
		start, _ := aggregate.BucketStart(last, res)
		i := len(s.base) - 1
		for i > 0 && s.base[i-1].Time >= start {
			i--
		}
		if err := s.opts.aggregator.RebuildLast(series, s.base[i:], res); err != nil {
			s.ohlc.Delete(res)
			s.opts.metrics.RecordError("rebuild")
		}
	}
	s.invalidateSingleLocked("correction")
}

// Scalar entries are cheap to rederive and may outlive their candle entry, so
// every incremental change drops them all.
func (s *Store) invalidateSingleLocked(reason string) {
	if s.single.Len() == 0 {
		return
	}
	s.single.Clear()
	s.opts.metrics.RecordInvalidation(reason)
}

func (s *Store) clearLocked(reason string) {
	if s.ohlc.Len() == 0 && s.single.Len() == 0 {
		return
	}
	s.ohlc.Clear()
	s.single.Clear()
	s.opts.metrics.RecordInvalidation(reason)
}

func (s *Store) normalize(res int64) (int64, error) {
	if res <= 0 {
		return 0, fmt.Errorf("series: resolution %d: %w", res, aggregate.ErrInvalidResolution)
	}
	if res < s.baseRes {
		return s.baseRes, nil
	}
	return res, nil
}

// GetOhlc returns the series at res, aggregating on a miss. Resolutions at or
// below the base resolution yield the base aggregation.
func (s *Store) GetOhlc(res int64) (models.AggregatedSeries, error) {
	res, err := s.normalize(res)
	if err != nil {
		return models.AggregatedSeries{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	series, err := s.ohlcLocked(res)
	if err != nil {
		return models.AggregatedSeries{}, err
	}
	return series.Clone(), nil
}

func (s *Store) ohlcLocked(res int64) (*models.AggregatedSeries, error) {
	if series, ok := s.ohlc.Get(res); ok {
		s.opts.metrics.RecordCacheHit("ohlc")
		return series, nil
	}
	s.opts.metrics.RecordCacheMiss("ohlc")
	started := time.Now()
	series, err := s.opts.aggregator.Aggregate(s.base, res)
	if err != nil {
		return nil, err
	}
	s.opts.metrics.RecordAggregation(res, time.Since(started).Seconds())
	s.ohlc.Set(res, &series)
	s.enforceBoundLocked()
	return &series, nil
}

// GetSingle returns the scalar projection of the series at res.
func (s *Store) GetSingle(res int64, method models.Method) ([]models.SingleValue, error) {
	if _, err := aggregate.ParseMethod(string(method)); err != nil {
		return nil, err
	}
	res, err := s.normalize(res)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := singleKey{res: res, method: method}
	vals, ok := s.single.Get(key)
	if ok {
		s.opts.metrics.RecordCacheHit("single")
	} else {
		s.opts.metrics.RecordCacheMiss("single")
		series, err := s.ohlcLocked(res)
		if err != nil {
			return nil, err
		}
		vals = aggregate.Project(series.Bars, method)
		s.single.Set(key, vals)
		s.enforceBoundLocked()
	}
	out := make([]models.SingleValue, len(vals))
	copy(out, vals)
	return out, nil
}

func (s *Store) GetClose(res int64) ([]models.SingleValue, error) {
	return s.GetSingle(res, models.MethodClose)
}

func (s *Store) GetOpen(res int64) ([]models.SingleValue, error) {
	return s.GetSingle(res, models.MethodOpen)
}

func (s *Store) GetHigh(res int64) ([]models.SingleValue, error) {
	return s.GetSingle(res, models.MethodHigh)
}

func (s *Store) GetLow(res int64) ([]models.SingleValue, error) {
	return s.GetSingle(res, models.MethodLow)
}

func (s *Store) enforceBoundLocked() {
	if s.ohlc.Len()+s.single.Len() <= s.opts.maxCacheSize {
		return
	}
	s.evictHalfLocked()
	// halving a cache of one entry removes nothing
	for s.ohlc.Len()+s.single.Len() > s.opts.maxCacheSize {
		if s.single.Len() >= s.ohlc.Len() && s.single.EvictOldest(1) > 0 {
			s.opts.metrics.RecordEviction("single", 1)
			continue
		}
		if s.ohlc.EvictOldest(1) == 0 {
			return
		}
		s.opts.metrics.RecordEviction("ohlc", 1)
	}
}

func (s *Store) evictHalfLocked() {
	if n := s.ohlc.EvictOldest(s.ohlc.Len() / 2); n > 0 {
		s.opts.metrics.RecordEviction("ohlc", n)
	}
	if n := s.single.EvictOldest(s.single.Len() / 2); n > 0 {
		s.opts.metrics.RecordEviction("single", n)
	}
}

// ClearAllCaches drops every derived entry, keeping the base series.
func (s *Store) ClearAllCaches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked("manual")
}

// ClearResolution drops the candle and scalar entries of one resolution.
func (s *Store) ClearResolution(res int64) {
	res, err := s.normalize(res)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ohlc.Delete(res)
	s.single.DeleteFunc(func(k singleKey) bool { return k.res == res })
}

// CachedResolutions lists warm candle resolutions in insertion order.
func (s *Store) CachedResolutions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ohlc.Keys()
}

// LatestCached returns the newest bar of every warm resolution, keyed by
// resolution. Nothing is aggregated.
func (s *Store) LatestCached() map[int64]models.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]models.Bar, s.ohlc.Len())
	for _, res := range s.ohlc.Keys() {
		agg, _ := s.ohlc.Get(res)
		n := agg.Len()
		if n == 0 {
			continue
		}
		d := agg.Bars[n-1]
		b := models.Bar{Time: d.Time, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close}
		if len(agg.Volumes) == n {
			b.Volume = models.Vol(agg.Volumes[n-1].Value)
		}
		out[res] = b
	}
	return out
}

func (s *Store) IsCached(res int64) bool {
	res, err := s.normalize(res)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ohlc.Has(res)
}

// BaseBars returns a copy of the base series.
func (s *Store) BaseBars() []models.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBars(s.base)
}

func (s *Store) BaseLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.base)
}

func (s *Store) Stats() models.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CacheStats{
		OhlcCacheSize:   s.ohlc.Len(),
		SingleCacheSize: s.single.Len(),
		TotalCacheSize:  s.ohlc.Len() + s.single.Len(),
		BaseBarsCount:   len(s.base),
	}
}

func (s *Store) startCleanup() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.opts.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				s.evictHalfLocked()
				s.mu.Unlock()
			}
		}
	}(s.stop, s.done)
}

// StopAutoCleanup halts the background trim. Safe to call more than once.
func (s *Store) StopAutoCleanup() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Destroy stops background work and releases every bar and cache entry.
func (s *Store) Destroy() {
	s.StopAutoCleanup()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.base = nil
	s.ohlc.Clear()
	s.single.Clear()
}

// cloneBar detaches b from the caller's volume pointer.
func cloneBar(b models.Bar) models.Bar {
	if b.Volume != nil {
		b.Volume = models.Vol(*b.Volume)
	}
	return b
}

func cloneBars(in []models.Bar) []models.Bar {
	out := make([]models.Bar, len(in))
	for i, b := range in {
		out[i] = cloneBar(b)
	}
	return out
}
