package usecase

import (
	"context"
	"fmt"
	"sort"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	"ChartCache/internal/middleware"
	"ChartCache/pkg/logger"
	"ChartCache/pkg/util"
)

// BarApplier feeds incremental base bars into the registry, optionally
// persists them and publishes the resulting warm bars to sinks. It is
// shared by every realtime source.
type BarApplier struct {
	registry  *SymbolRegistry
	publisher repository.UpdatePublisher
	sink      repository.BarSink
	guard     *middleware.BarGuard
	metrics   repository.Metrics
	log       *logger.Logger
}

// NewBarApplier builds an applier; publisher and sink may be nil.
func NewBarApplier(registry *SymbolRegistry, publisher repository.UpdatePublisher, sink repository.BarSink, metrics repository.Metrics, log *logger.Logger) *BarApplier {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BarApplier{
		registry:  registry,
		publisher: publisher,
		sink:      sink,
		guard:     middleware.NewBarGuard(metrics),
		metrics:   metrics,
		log:       log,
	}
}

// Apply sorts bars by time and applies the valid ones in order; outcomes
// follow that order. Invalid bars and unknown symbols are skipped without
// error.
func (a *BarApplier) Apply(ctx context.Context, symbol string, bars []models.Bar) ([]models.ApplyOutcome, error) {
	symbol = util.NormalizeSymbol(symbol)
	if len(bars) == 0 {
		return nil, nil
	}
	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	sorted, verr := a.guard.Filter(sorted)
	if verr != nil {
		a.log.Warn("invalid bars skipped", logger.String("symbol", symbol), logger.Error(verr))
	}
	if len(sorted) == 0 {
		return nil, nil
	}

	outcomes := a.registry.ApplyBaseBars(symbol, sorted)
	if outcomes == nil {
		a.log.Debug("bars for unknown symbol ignored", logger.String("symbol", symbol), logger.Int("count", len(bars)))
		return nil, nil
	}

	kept := make([]models.Bar, 0, len(sorted))
	changed := false
	for i, o := range outcomes {
		if o == models.Dropped {
			a.log.Debug("unmatched backfill dropped", logger.String("symbol", symbol), logger.Int64("time", sorted[i].Time))
			continue
		}
		kept = append(kept, sorted[i])
		changed = changed || o != models.Ignored
	}

	if a.sink != nil && len(kept) > 0 {
		if err := a.sink.InsertBars(ctx, symbol, kept); err != nil {
			a.metrics.RecordError("sink")
			return outcomes, fmt.Errorf("persist bars %s: %w", symbol, err)
		}
	}
	if a.publisher != nil && changed {
		if updates := a.registry.LatestBars(symbol); len(updates) > 0 {
			if err := a.publisher.PublishUpdates(ctx, updates); err != nil {
				a.metrics.RecordError("publish")
				return outcomes, fmt.Errorf("publish updates %s: %w", symbol, err)
			}
		}
	}
	return outcomes, nil
}
