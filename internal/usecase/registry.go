package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	"ChartCache/internal/service/aggregate"
	"ChartCache/internal/service/series"
	"ChartCache/pkg/logger"
)

var ErrRegistryClosed = errors.New("registry: destroyed")

type symbolContext struct {
	store      *series.Store
	baseRes    int64
	lastUpdate time.Time
	warmup     *warmupJob
	// pending is a schedule carried over from a replaced store, waiting to
	// be restarted once SetBase releases the lock. Stopping clears it.
	pending *warmupJob
}

type warmupJob struct {
	list     []int64
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func (j *warmupJob) stop() {
	if j == nil {
		return
	}
	j.cancel()
	<-j.done
}

// SymbolRegistry owns one series store per symbol, bounds how many symbols
// are kept and schedules periodic cache warm-up.
type SymbolRegistry struct {
	mu        sync.Mutex
	symbols   map[string]*symbolContext
	opts      registryOptions
	destroyed bool
}

func NewSymbolRegistry(opts ...RegistryOption) *SymbolRegistry {
	o := registryOptions{
		maxSymbols:     DefaultMaxSymbols,
		maxCacheSize:   series.DefaultMaxCacheSize,
		warmupInterval: DefaultWarmupInterval,
		minWarmup:      DefaultMinimumWarmupInterval,
		autoCleanup:    true,
		log:            logger.NewNop(),
		metrics:        repository.NopMetrics{},
		aggregator:     aggregate.Default{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &SymbolRegistry{symbols: make(map[string]*symbolContext), opts: o}
}

// SetBase loads the base series of symbol. A different base resolution
// replaces the symbol's store entirely.
func (r *SymbolRegistry) SetBase(symbol string, bars []models.Bar, baseRes int64) error {
	if baseRes <= 0 {
		return fmt.Errorf("set base %s: %w", symbol, aggregate.ErrInvalidResolution)
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	var (
		stale   *series.Store
		restart *warmupJob
	)
	sc, ok := r.symbols[symbol]
	if ok && sc.baseRes != baseRes {
		stale = sc.store
		restart = sc.warmup
		ok = false
	}
	if !ok {
		store, err := series.New(baseRes, r.opts.storeOptions()...)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("set base %s: %w", symbol, err)
		}
		sc = &symbolContext{store: store, baseRes: baseRes, pending: restart}
		r.symbols[symbol] = sc
	}
	sc.store.SetBaseBars(bars)
	sc.lastUpdate = r.opts.now()
	evicted := r.enforceSymbolCapLocked(symbol)
	r.opts.metrics.RecordSymbols(len(r.symbols))
	r.mu.Unlock()

	r.release(evicted)
	if stale != nil {
		restart.stop()
		stale.Destroy()
		r.opts.log.Info("base resolution changed, store reset",
			logger.String("symbol", symbol),
			logger.Int64("base_res", baseRes),
		)
		if restart != nil {
			r.scheduleWarmup(symbol, restart.list, restart.interval, restart)
		}
	}
	return nil
}

// enforceSymbolCapLocked detaches the least recently updated half of the
// symbols once the cap is exceeded. keep is never evicted.
func (r *SymbolRegistry) enforceSymbolCapLocked(keep string) []*symbolContext {
	if len(r.symbols) <= r.opts.maxSymbols {
		return nil
	}
	names := make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		if name != keep {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := r.symbols[names[i]].lastUpdate, r.symbols[names[j]].lastUpdate
		if a.Equal(b) {
			return names[i] < names[j]
		}
		return a.Before(b)
	})
	n := len(r.symbols) / 2
	if n > len(names) {
		n = len(names)
	}
	out := make([]*symbolContext, 0, n)
	for _, name := range names[:n] {
		out = append(out, r.symbols[name])
		delete(r.symbols, name)
	}
	r.opts.metrics.RecordEviction("symbol", n)
	r.opts.log.Info("symbol cap exceeded, evicted oldest",
		logger.Strings("symbols", names[:n]),
		logger.Int("max_symbols", r.opts.maxSymbols),
	)
	return out
}

// release stops jobs and destroys stores of detached contexts. Must be called
// without r.mu held.
func (r *SymbolRegistry) release(contexts []*symbolContext) {
	for _, sc := range contexts {
		sc.warmup.stop()
		sc.store.Destroy()
	}
}

func (r *SymbolRegistry) lookup(symbol string, touch bool) (*symbolContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.symbols[symbol]
	if ok && touch {
		sc.lastUpdate = r.opts.now()
	}
	return sc, ok
}

// ApplyBaseBar routes a base bar to symbol's store. Unknown symbols are
// ignored.
func (r *SymbolRegistry) ApplyBaseBar(symbol string, bar models.Bar) models.ApplyOutcome {
	sc, ok := r.lookup(symbol, true)
	if !ok {
		return models.Ignored
	}
	out := sc.store.ApplyBaseBar(bar)
	if out == models.Dropped {
		r.opts.log.Debug("unmatched historical bar dropped",
			logger.String("symbol", symbol),
			logger.Int64("time", bar.Time),
		)
	}
	return out
}

func (r *SymbolRegistry) ApplyBaseBars(symbol string, bars []models.Bar) []models.ApplyOutcome {
	sc, ok := r.lookup(symbol, true)
	if !ok {
		return nil
	}
	return sc.store.ApplyBaseBars(bars)
}

// GetForTimeframe returns symbol's bars at res with volumes merged in.
func (r *SymbolRegistry) GetForTimeframe(symbol string, res int64) ([]models.Bar, error) {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return []models.Bar{}, nil
	}
	s, err := sc.store.GetOhlc(res)
	if err != nil {
		return nil, err
	}
	return s.Merge(), nil
}

func (r *SymbolRegistry) GetSingle(symbol string, res int64, method models.Method) ([]models.SingleValue, error) {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return []models.SingleValue{}, nil
	}
	return sc.store.GetSingle(res, method)
}

// Warmup aggregates every resolution in list that is not below the base.
func (r *SymbolRegistry) Warmup(symbol string, list []int64) error {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return nil
	}
	started := time.Now()
	for _, res := range dedupeSorted(list) {
		if res < sc.baseRes {
			continue
		}
		if _, err := sc.store.GetOhlc(res); err != nil {
			return fmt.Errorf("warmup %s@%d: %w", symbol, res, err)
		}
	}
	r.opts.metrics.RecordLatency("warmup", time.Since(started).Seconds())
	return nil
}

func dedupeSorted(list []int64) []int64 {
	out := make([]int64, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}

func (r *SymbolRegistry) warmupInterval(d time.Duration) time.Duration {
	if d <= 0 {
		d = r.opts.warmupInterval
	}
	if d < r.opts.minWarmup {
		d = r.opts.minWarmup
	}
	return d
}

// StartWarmup warms list now and then on every interval until stopped.
// Any earlier schedule of the same symbol is replaced.
func (r *SymbolRegistry) StartWarmup(symbol string, list []int64, interval time.Duration) bool {
	return r.scheduleWarmup(symbol, list, interval, nil)
}

// scheduleWarmup installs a new job. A non-nil carried job must still be the
// symbol's pending schedule, otherwise it was stopped meanwhile and nothing
// starts.
func (r *SymbolRegistry) scheduleWarmup(symbol string, list []int64, interval time.Duration, carried *warmupJob) bool {
	if carried != nil && !r.hasPending(symbol, carried) {
		return false
	}
	if !r.HasSymbol(symbol) {
		return false
	}
	if err := r.Warmup(symbol, list); err != nil {
		r.opts.log.Warn("initial warmup failed", logger.String("symbol", symbol), logger.Error(err))
	}

	interval = r.warmupInterval(interval)
	ctx, cancel := context.WithCancel(context.Background())
	job := &warmupJob{
		list:     dedupeSorted(list),
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	sc, ok := r.symbols[symbol]
	if !ok || r.destroyed || (carried != nil && sc.pending != carried) {
		r.mu.Unlock()
		cancel()
		return false
	}
	prev := sc.warmup
	sc.warmup = job
	sc.pending = nil
	r.mu.Unlock()

	prev.stop()
	go r.runWarmup(ctx, symbol, job)

	r.opts.log.Info("warmup scheduled",
		logger.String("symbol", symbol),
		logger.Int64s("resolutions", job.list),
		logger.Duration("interval", interval),
	)
	return true
}

func (r *SymbolRegistry) hasPending(symbol string, job *warmupJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.symbols[symbol]
	return ok && sc.pending == job
}

func (r *SymbolRegistry) runWarmup(ctx context.Context, symbol string, job *warmupJob) {
	defer close(job.done)
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Warmup(symbol, job.list); err != nil {
				r.opts.metrics.RecordError("warmup")
				r.opts.log.Warn("scheduled warmup failed", logger.String("symbol", symbol), logger.Error(err))
			}
		}
	}
}

// StartRecommendedWarmup schedules every standard timeframe above the base.
func (r *SymbolRegistry) StartRecommendedWarmup(symbol string, interval time.Duration) bool {
	base, ok := r.BaseTimeframe(symbol)
	if !ok {
		return false
	}
	return r.StartWarmup(symbol, repository.WarmupList(base), interval)
}

// StopWarmup cancels every schedule.
func (r *SymbolRegistry) StopWarmup() {
	r.mu.Lock()
	jobs := make([]*warmupJob, 0)
	for _, sc := range r.symbols {
		sc.pending = nil
		if sc.warmup != nil {
			jobs = append(jobs, sc.warmup)
			sc.warmup = nil
		}
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.stop()
	}
}

func (r *SymbolRegistry) StopSymbolWarmup(symbol string) bool {
	r.mu.Lock()
	sc, ok := r.symbols[symbol]
	if !ok || (sc.warmup == nil && sc.pending == nil) {
		r.mu.Unlock()
		return false
	}
	sc.pending = nil
	job := sc.warmup
	sc.warmup = nil
	r.mu.Unlock()
	job.stop()
	return true
}

func (r *SymbolRegistry) RemoveSymbol(symbol string) bool {
	r.mu.Lock()
	sc, ok := r.symbols[symbol]
	if ok {
		delete(r.symbols, symbol)
		r.opts.metrics.RecordSymbols(len(r.symbols))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release([]*symbolContext{sc})
	return true
}

func (r *SymbolRegistry) ClearAllSymbols() {
	r.mu.Lock()
	all := make([]*symbolContext, 0, len(r.symbols))
	for _, sc := range r.symbols {
		all = append(all, sc)
	}
	r.symbols = make(map[string]*symbolContext)
	r.opts.metrics.RecordSymbols(0)
	r.mu.Unlock()
	r.release(all)
}

// Destroy removes every symbol and rejects further loads.
func (r *SymbolRegistry) Destroy() {
	r.mu.Lock()
	r.destroyed = true
	r.mu.Unlock()
	r.ClearAllSymbols()
}

// CachedSymbols lists registered symbols in lexical order.
func (r *SymbolRegistry) CachedSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *SymbolRegistry) HasSymbol(symbol string) bool {
	_, ok := r.lookup(symbol, false)
	return ok
}

func (r *SymbolRegistry) BaseTimeframe(symbol string) (int64, bool) {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return 0, false
	}
	return sc.baseRes, true
}

// LatestBars returns one update per warm resolution of symbol, ordered by
// resolution.
func (r *SymbolRegistry) LatestBars(symbol string) []models.BarUpdate {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return nil
	}
	latest := sc.store.LatestCached()
	resolutions := make([]int64, 0, len(latest))
	for res := range latest {
		resolutions = append(resolutions, res)
	}
	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

	out := make([]models.BarUpdate, len(resolutions))
	for i, res := range resolutions {
		out[i] = models.BarUpdate{
			Symbol:    symbol,
			Timeframe: string(repository.TimeframeFromSeconds(res)),
			Bar:       latest[res],
		}
	}
	return out
}

// BaseData returns a copy of symbol's base series, nil if unknown.
func (r *SymbolRegistry) BaseData(symbol string) []models.Bar {
	sc, ok := r.lookup(symbol, false)
	if !ok {
		return nil
	}
	return sc.store.BaseBars()
}

func (r *SymbolRegistry) SymbolStats(symbol string) (models.SymbolStats, bool) {
	r.mu.Lock()
	sc, ok := r.symbols[symbol]
	var (
		lastUpdate time.Time
		active     bool
	)
	if ok {
		lastUpdate = sc.lastUpdate
		active = sc.warmup != nil
	}
	r.mu.Unlock()
	if !ok {
		return models.SymbolStats{}, false
	}
	return models.SymbolStats{
		Symbol:            symbol,
		BaseResolution:    sc.baseRes,
		LastUpdate:        lastUpdate,
		CachedResolutions: sc.store.CachedResolutions(),
		WarmupActive:      active,
		Cache:             sc.store.Stats(),
	}, true
}

func (r *SymbolRegistry) Stats() models.RegistryStats {
	r.mu.Lock()
	stores := make([]*series.Store, 0, len(r.symbols))
	warm := make([]string, 0)
	for name, sc := range r.symbols {
		stores = append(stores, sc.store)
		if sc.warmup != nil {
			warm = append(warm, name)
		}
	}
	r.mu.Unlock()

	sort.Strings(warm)
	out := models.RegistryStats{SymbolCount: len(stores), WarmupSymbols: warm}
	for _, s := range stores {
		out.TotalCacheSize += s.Stats().TotalCacheSize
	}
	return out
}
