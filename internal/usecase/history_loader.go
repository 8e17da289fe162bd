package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	"ChartCache/pkg/logger"
	"ChartCache/pkg/util"
)

// LoaderConfig controls how much history is loaded and what is warmed.
type LoaderConfig struct {
	BaseRes        int64
	Lookback       time.Duration
	Limit          int
	Timeout        time.Duration
	SnapshotTTL    time.Duration
	Warmup         []int64
	WarmupInterval time.Duration
}

// HistoryLoader fills the registry with base series. A stored snapshot is
// preferred and topped up from the source; otherwise the source's lookback
// window is loaded in one call.
type HistoryLoader struct {
	registry  *SymbolRegistry
	source    repository.BarSource
	snapshots repository.SnapshotStore
	cfg       LoaderConfig
	metrics   repository.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewHistoryLoader creates a loader; source and snapshots may be nil.
func NewHistoryLoader(registry *SymbolRegistry, source repository.BarSource, snapshots repository.SnapshotStore, cfg LoaderConfig, metrics repository.Metrics, log *logger.Logger) *HistoryLoader {
	if cfg.BaseRes <= 0 {
		cfg.BaseRes = 60
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20000
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HistoryLoader{
		registry:  registry,
		source:    source,
		snapshots: snapshots,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Load registers symbol with its history and starts its warm-up timer.
func (l *HistoryLoader) Load(ctx context.Context, symbol string) error {
	symbol = util.NormalizeSymbol(symbol)
	start := l.now()
	bars, origin, err := l.history(ctx, symbol)
	if err != nil {
		l.metrics.RecordError("history")
		return err
	}
	if err := l.registry.SetBase(symbol, bars, l.cfg.BaseRes); err != nil {
		return fmt.Errorf("set base %s: %w", symbol, err)
	}
	if len(l.cfg.Warmup) > 0 {
		l.registry.StartWarmup(symbol, l.cfg.Warmup, l.cfg.WarmupInterval)
	} else {
		l.registry.StartRecommendedWarmup(symbol, l.cfg.WarmupInterval)
	}
	l.metrics.RecordLatency("history_load", l.now().Sub(start).Seconds())
	l.log.Info("history loaded",
		logger.String("symbol", symbol),
		logger.String("origin", origin),
		logger.Int("bars", len(bars)),
	)
	return nil
}

// LoadAll loads every symbol and joins the failures.
func (l *HistoryLoader) LoadAll(ctx context.Context, symbols []string) error {
	var errs []error
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Load(ctx, s); err != nil {
			l.log.Warn("history load failed", logger.String("symbol", s), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *HistoryLoader) history(ctx context.Context, symbol string) ([]models.Bar, string, error) {
	now := l.now()
	if snap := l.snapshot(ctx, symbol); snap != nil {
		last := snap.Bars[len(snap.Bars)-1].Time
		gap, err := l.fetch(ctx, symbol, time.Unix(last+l.cfg.BaseRes, 0), now)
		if err != nil {
			// a stale snapshot still beats an empty chart
			l.log.Warn("snapshot top-up failed", logger.String("symbol", symbol), logger.Error(err))
			return snap.Bars, "snapshot", nil
		}
		return appendNewer(snap.Bars, gap), "snapshot", nil
	}
	if l.source == nil {
		return nil, "none", nil
	}
	bars, err := l.fetch(ctx, symbol, now.Add(-l.cfg.Lookback), now)
	if err != nil {
		return nil, "", err
	}
	return bars, "source", nil
}

func (l *HistoryLoader) snapshot(ctx context.Context, symbol string) *repository.Snapshot {
	if l.snapshots == nil {
		return nil
	}
	snap, err := l.snapshots.Load(ctx, symbol)
	if err != nil {
		l.log.Warn("snapshot load failed", logger.String("symbol", symbol), logger.Error(err))
		return nil
	}
	if snap == nil || snap.BaseRes != l.cfg.BaseRes || len(snap.Bars) == 0 {
		return nil
	}
	return snap
}

func (l *HistoryLoader) fetch(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if l.source == nil || !from.Before(to) {
		return nil, nil
	}
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}
	bars, err := l.source.GetBaseBars(ctx, symbol, from, to, l.cfg.BaseRes, l.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", symbol, err)
	}
	return bars, nil
}

// appendNewer appends the bars of gap strictly after the end of base.
func appendNewer(base, gap []models.Bar) []models.Bar {
	if len(base) == 0 {
		return gap
	}
	last := base[len(base)-1].Time
	out := make([]models.Bar, len(base), len(base)+len(gap))
	copy(out, base)
	for _, b := range gap {
		if b.Time > last {
			out = append(out, b)
			last = b.Time
		}
	}
	return out
}

// SaveSnapshots persists every registered base series. Symbols locked by
// another writer are skipped.
func (l *HistoryLoader) SaveSnapshots(ctx context.Context) error {
	if l.snapshots == nil {
		return nil
	}
	var errs []error
	saved := 0
	for _, sym := range l.registry.CachedSymbols() {
		baseRes, ok := l.registry.BaseTimeframe(sym)
		bars := l.registry.BaseData(sym)
		if !ok || len(bars) == 0 {
			continue
		}
		snap := repository.Snapshot{Symbol: sym, BaseRes: baseRes, SavedAt: l.now().UTC(), Bars: bars}
		err := l.snapshots.Save(ctx, snap, l.cfg.SnapshotTTL)
		switch {
		case errors.Is(err, repository.ErrSnapshotLocked):
			l.log.Debug("snapshot locked elsewhere", logger.String("symbol", sym))
		case err != nil:
			l.metrics.RecordError("snapshot")
			errs = append(errs, err)
		default:
			saved++
		}
	}
	l.log.Debug("snapshots saved", logger.Int("count", saved))
	return errors.Join(errs...)
}

// RunSnapshots saves snapshots every interval until ctx ends.
func (l *HistoryLoader) RunSnapshots(ctx context.Context, interval time.Duration) {
	if l.snapshots == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.SaveSnapshots(ctx); err != nil {
				l.log.Warn("periodic snapshot failed", logger.Error(err))
			}
		}
	}
}

// Forget drops symbol from the registry and its snapshot.
func (l *HistoryLoader) Forget(ctx context.Context, symbol string) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	removed := l.registry.RemoveSymbol(symbol)
	if l.snapshots != nil {
		if err := l.snapshots.Delete(ctx, symbol); err != nil {
			return removed, fmt.Errorf("delete snapshot %s: %w", symbol, err)
		}
	}
	return removed, nil
}
