package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	infra "ChartCache/internal/repository"
	"ChartCache/pkg/cache"
)

type sourceCall struct {
	symbol   string
	from, to time.Time
}

type fakeSource struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	err   error
	calls []sourceCall
}

func (s *fakeSource) GetBaseBars(_ context.Context, symbol string, from, to time.Time, _ int64, limit int) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{symbol, from, to})
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Bar
	for _, b := range s.bars[symbol] {
		if b.Time >= from.Unix() && b.Time <= to.Unix() {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

const loaderNow = 1_700_000_040 // minute aligned

func loaderBars(from, to int64) []models.Bar {
	var out []models.Bar
	for ts := from; ts <= to; ts += 60 {
		out = append(out, flat(ts, float64(ts%1000)))
	}
	return out
}

func newLoader(t *testing.T, r *SymbolRegistry, src repository.BarSource, snaps repository.SnapshotStore) *HistoryLoader {
	t.Helper()
	l := NewHistoryLoader(r, src, snaps, LoaderConfig{
		BaseRes:  60,
		Lookback: time.Hour,
		Warmup:   []int64{300},
	}, nil, nil)
	l.now = func() time.Time { return time.Unix(loaderNow, 0) }
	return l
}

func TestHistoryLoaderLoadsFromSource(t *testing.T) {
	r := newRegistry(t)
	src := &fakeSource{bars: map[string][]models.Bar{"BTCUSDT": loaderBars(loaderNow-7200, loaderNow)}}
	l := newLoader(t, r, src, nil)

	if err := l.Load(context.Background(), "btc/usdt"); err != nil {
		t.Fatalf("load: %v", err)
	}
	base := r.BaseData("BTCUSDT")
	if len(base) != 61 || base[0].Time != loaderNow-3600 {
		t.Fatalf("expected one hour of bars, got %d starting %d", len(base), base[0].Time)
	}
	st, ok := r.SymbolStats("BTCUSDT")
	if !ok || !st.WarmupActive {
		t.Fatalf("expected active warmup, got %+v", st)
	}
}

func TestHistoryLoaderPrefersSnapshot(t *testing.T) {
	r := newRegistry(t)
	snaps := infra.NewCacheSnapshotStore(cache.NewMemoryCache())
	old := loaderBars(loaderNow-600, loaderNow-180)
	if err := snaps.Save(context.Background(), repository.Snapshot{Symbol: "BTCUSDT", BaseRes: 60, Bars: old}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	src := &fakeSource{bars: map[string][]models.Bar{"BTCUSDT": loaderBars(loaderNow-7200, loaderNow)}}
	l := newLoader(t, r, src, snaps)

	if err := l.Load(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(src.calls) != 1 || src.calls[0].from.Unix() != loaderNow-120 {
		t.Fatalf("expected a single top-up after the snapshot, got %+v", src.calls)
	}
	base := r.BaseData("BTCUSDT")
	if len(base) != 11 || base[0].Time != loaderNow-600 || base[len(base)-1].Time != loaderNow {
		t.Fatalf("unexpected base %d bars", len(base))
	}
}

func TestHistoryLoaderSnapshotSurvivesSourceFailure(t *testing.T) {
	r := newRegistry(t)
	snaps := infra.NewCacheSnapshotStore(cache.NewMemoryCache())
	old := loaderBars(loaderNow-600, loaderNow-300)
	if err := snaps.Save(context.Background(), repository.Snapshot{Symbol: "ETHUSDT", BaseRes: 60, Bars: old}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	l := newLoader(t, r, &fakeSource{err: errors.New("down")}, snaps)
	if err := l.Load(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(r.BaseData("ETHUSDT")); got != len(old) {
		t.Fatalf("expected snapshot bars only, got %d", got)
	}
}

func TestHistoryLoaderSourceErrorWithoutSnapshot(t *testing.T) {
	r := newRegistry(t)
	l := newLoader(t, r, &fakeSource{err: errors.New("down")}, nil)
	err := l.LoadAll(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if r.HasSymbol("BTCUSDT") {
		t.Fatal("failed load must not register the symbol")
	}
}

func TestHistoryLoaderWithoutSourceRegistersEmpty(t *testing.T) {
	r := newRegistry(t)
	l := newLoader(t, r, nil, nil)
	if err := l.Load(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !r.HasSymbol("SOLUSDT") || len(r.BaseData("SOLUSDT")) != 0 {
		t.Fatal("expected empty registered symbol")
	}
}

func TestHistoryLoaderSaveAndForget(t *testing.T) {
	r := newRegistry(t)
	store := cache.NewMemoryCache()
	snaps := infra.NewCacheSnapshotStore(store)
	src := &fakeSource{bars: map[string][]models.Bar{"BTCUSDT": loaderBars(loaderNow-600, loaderNow)}}
	l := newLoader(t, r, src, snaps)
	ctx := context.Background()
	if err := l.Load(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.SaveSnapshots(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := snaps.Load(ctx, "BTCUSDT")
	if err != nil || snap == nil || len(snap.Bars) != 11 {
		t.Fatalf("expected saved snapshot, got %+v %v", snap, err)
	}

	removed, err := l.Forget(ctx, "btcusdt")
	if err != nil || !removed {
		t.Fatalf("forget: %v %v", removed, err)
	}
	if snap, _ := snaps.Load(ctx, "BTCUSDT"); snap != nil {
		t.Fatal("snapshot not deleted")
	}
}

func TestAppendNewerSkipsOverlap(t *testing.T) {
	got := appendNewer(loaderBars(0, 120), loaderBars(60, 240))
	if len(got) != 5 || got[3].Time != 180 {
		t.Fatalf("unexpected merge %+v", got)
	}
}
