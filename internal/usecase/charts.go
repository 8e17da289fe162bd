package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChartCache/internal/domain/models"
	domrepo "ChartCache/internal/domain/repository"
	"ChartCache/pkg/logger"
	"ChartCache/pkg/util"
)

var (
	ErrSymbolRequired   = errors.New("symbol required")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrInvalidRange     = errors.New("from must be <= to")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)

const maxBarsLimit = 50000

// ChartsUseCase is the read and warm-up API served over HTTP.
type ChartsUseCase struct {
	registry *SymbolRegistry
	loader   *HistoryLoader
	autoLoad bool
	log      *logger.Logger
}

// NewChartsUseCase wires the registry. With autoLoad set, unknown symbols
// are loaded through loader on first request.
func NewChartsUseCase(registry *SymbolRegistry, loader *HistoryLoader, autoLoad bool, log *logger.Logger) *ChartsUseCase {
	if log == nil {
		log = logger.NewNop()
	}
	return &ChartsUseCase{registry: registry, loader: loader, autoLoad: autoLoad, log: log}
}

type GetBarsParams struct {
	Symbol string
	TF     string
	From   time.Time
	To     time.Time
	Limit  int
}

func (uc *ChartsUseCase) ensure(ctx context.Context, symbol string) error {
	if uc.registry.HasSymbol(symbol) || !uc.autoLoad || uc.loader == nil {
		return nil
	}
	if err := uc.loader.Load(ctx, symbol); err != nil {
		return fmt.Errorf("load %s: %w", symbol, err)
	}
	return nil
}

func parseTF(tf string) (int64, error) {
	res, err := domrepo.ParseTimeframe(tf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTimeframe, err)
	}
	return res, nil
}

// GetBars returns the newest Limit bars of symbol at TF inside [From, To].
// Zero times leave that side open. Unknown symbols yield an empty result.
func (uc *ChartsUseCase) GetBars(ctx context.Context, p GetBarsParams) (*models.BarsResponse, error) {
	symbol := util.NormalizeSymbol(p.Symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return nil, ErrInvalidRange
	}
	if p.Limit <= 0 || p.Limit > maxBarsLimit {
		p.Limit = maxBarsLimit
	}
	if err := uc.ensure(ctx, symbol); err != nil {
		return nil, err
	}
	res, err := uc.resolution(symbol, p)
	if err != nil {
		return nil, err
	}

	bars, err := uc.registry.GetForTimeframe(symbol, res)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	bars = clipRange(bars, p.From, p.To, res)
	if len(bars) > p.Limit {
		bars = bars[len(bars)-p.Limit:]
	}
	return &models.BarsResponse{
		Symbol:    symbol,
		Timeframe: string(domrepo.TimeframeFromSeconds(res)),
		Count:     len(bars),
		Bars:      bars,
	}, nil
}

// resolution parses TF. An empty TF picks a display resolution for a closed
// range and the base resolution otherwise.
func (uc *ChartsUseCase) resolution(symbol string, p GetBarsParams) (int64, error) {
	if p.TF != "" {
		return parseTF(p.TF)
	}
	if !p.From.IsZero() && !p.To.IsZero() {
		return domrepo.RecommendTimeframe(p.From, p.To), nil
	}
	if base, ok := uc.registry.BaseTimeframe(symbol); ok {
		return base, nil
	}
	return domrepo.DefaultTimeframe().Seconds(), nil
}

// clipRange keeps buckets overlapping [from, to].
func clipRange(bars []models.Bar, from, to time.Time, res int64) []models.Bar {
	if from.IsZero() && to.IsZero() {
		return bars
	}
	lo, hi := int64(-1<<63), int64(1<<63-1)
	if !from.IsZero() {
		f, _ := util.AlignRange(from, from, res)
		lo = f.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	i := 0
	for i < len(bars) && bars[i].Time < lo {
		i++
	}
	j := len(bars)
	for j > i && bars[j-1].Time > hi {
		j--
	}
	return bars[i:j]
}

// GetSingle returns scalar values of symbol at tf.
func (uc *ChartsUseCase) GetSingle(ctx context.Context, symbol, tf, method string) (*models.SingleResponse, error) {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	res, err := parseTF(tf)
	if err != nil {
		return nil, err
	}
	if err := uc.ensure(ctx, symbol); err != nil {
		return nil, err
	}
	values, err := uc.registry.GetSingle(symbol, res, models.Method(method))
	if err != nil {
		return nil, fmt.Errorf("get single: %w", err)
	}
	return &models.SingleResponse{
		Symbol:    symbol,
		Timeframe: string(domrepo.TimeframeFromSeconds(res)),
		Method:    method,
		Count:     len(values),
		Values:    values,
	}, nil
}

// Warmup runs a one-shot warm-up, schedules a recurring one, or stops the
// symbol's schedule. An empty timeframe list means the recommended list.
func (uc *ChartsUseCase) Warmup(ctx context.Context, req models.WarmupRequest) (*models.WarmupResponse, error) {
	symbol := util.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	out := &models.WarmupResponse{Symbol: symbol}
	if req.Stop {
		out.Stopped = uc.registry.StopSymbolWarmup(symbol)
		return out, nil
	}
	if err := uc.ensure(ctx, symbol); err != nil {
		return nil, err
	}
	baseRes, ok := uc.registry.BaseTimeframe(symbol)
	if !ok {
		return nil, ErrUnknownSymbol
	}

	list := make([]int64, 0, len(req.Timeframes))
	for _, tf := range req.Timeframes {
		res, err := parseTF(tf)
		if err != nil {
			return nil, err
		}
		if !domrepo.Compatible(baseRes, res) {
			return nil, fmt.Errorf("%w: %s is not a multiple of the base resolution", ErrInvalidTimeframe, tf)
		}
		list = append(list, res)
	}
	if len(list) == 0 {
		list = domrepo.WarmupList(baseRes)
	}
	out.Resolutions = dedupeSorted(list)

	if req.IntervalSec > 0 {
		out.Scheduled = uc.registry.StartWarmup(symbol, list, time.Duration(req.IntervalSec)*time.Second)
		return out, nil
	}
	if err := uc.registry.Warmup(symbol, list); err != nil {
		return nil, fmt.Errorf("warmup: %w", err)
	}
	return out, nil
}

func (uc *ChartsUseCase) Stats() models.RegistryStats {
	return uc.registry.Stats()
}

func (uc *ChartsUseCase) SymbolStats(symbol string) (*models.SymbolStats, error) {
	st, ok := uc.registry.SymbolStats(util.NormalizeSymbol(symbol))
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return &st, nil
}

// Remove drops symbol and, when a loader is wired, its snapshot.
func (uc *ChartsUseCase) Remove(ctx context.Context, symbol string) (*models.RemoveResponse, error) {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	out := &models.RemoveResponse{Symbol: symbol}
	if uc.loader == nil {
		out.Removed = uc.registry.RemoveSymbol(symbol)
		return out, nil
	}
	removed, err := uc.loader.Forget(ctx, symbol)
	out.Removed = removed
	if err != nil {
		uc.log.Warn("snapshot delete failed", logger.String("symbol", symbol), logger.Error(err))
	}
	return out, nil
}
