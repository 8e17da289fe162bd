package series

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/service/aggregate"
)

type countingAggregator struct {
	aggregate.Default
	mu    sync.Mutex
	calls map[int64]int
}

func newCounting() *countingAggregator {
	return &countingAggregator{calls: make(map[int64]int)}
}

func (c *countingAggregator) Aggregate(base []models.Bar, res int64) (models.AggregatedSeries, error) {
	c.mu.Lock()
	c.calls[res]++
	c.mu.Unlock()
	return c.Default.Aggregate(base, res)
}

func (c *countingAggregator) count(res int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[res]
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithAutoCleanup(false, 0)}, opts...)
	s, err := New(60, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func minuteBars(closes ...float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Time: int64(i) * 60, Open: c, High: c, Low: c, Close: c, Volume: models.Vol(1)}
	}
	return out
}

func randomBars(r *rand.Rand, n int) []models.Bar {
	out := make([]models.Bar, n)
	p := 50.0
	for i := range out {
		c := p + r.Float64()*2 - 1
		out[i] = models.Bar{Time: int64(i) * 60, Open: p, High: p + 1, Low: c - 1, Close: c}
		if r.Intn(3) > 0 {
			out[i].Volume = models.Vol(float64(r.Intn(100)))
		}
		p = c
	}
	return out
}

func fresh(t *testing.T, base []models.Bar, res int64) models.AggregatedSeries {
	t.Helper()
	want, err := aggregate.Default{}.Aggregate(base, res)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return want
}

func TestNewRejectsInvalidBase(t *testing.T) {
	if _, err := New(0); !errors.Is(err, aggregate.ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestFiveBarExample(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(minuteBars(10, 11, 9, 12, 13))

	got, err := s.GetOhlc(180)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []models.OHLC{
		{Time: 0, Open: 10, High: 11, Low: 9, Close: 9},
		{Time: 180, Open: 12, High: 13, Low: 12, Close: 13},
	}
	if !reflect.DeepEqual(got.Bars, want) {
		t.Fatalf("unexpected %+v", got.Bars)
	}

	out := s.ApplyBaseBar(models.Bar{Time: 300, Open: 14, High: 14, Low: 14, Close: 14})
	if out != models.Appended {
		t.Fatalf("expected append, got %s", out)
	}
	got, _ = s.GetOhlc(180)
	if len(got.Bars) != 3 || got.Bars[2] != (models.OHLC{Time: 300, Open: 14, High: 14, Low: 14, Close: 14}) {
		t.Fatalf("unexpected after append %+v", got.Bars)
	}
}

func TestSetBaseBarsSortsAndCopies(t *testing.T) {
	s := newStore(t)
	in := minuteBars(1, 2, 3)
	in[0], in[2] = in[2], in[0]
	s.SetBaseBars(in)
	in[0].Close = 99

	base := s.BaseBars()
	for i := 1; i < len(base); i++ {
		if base[i-1].Time >= base[i].Time {
			t.Fatalf("base not sorted: %+v", base)
		}
	}
	for _, b := range base {
		if b.Close == 99 {
			t.Fatal("store aliases caller slice")
		}
	}
}

func TestBaseBarsDoNotShareVolume(t *testing.T) {
	s := newStore(t)
	in := minuteBars(1, 2, 3)
	s.SetBaseBars(in)
	*in[0].Volume = 500

	got := s.BaseBars()
	*got[1].Volume = 999

	bar := models.Bar{Time: 180, Open: 4, High: 4, Low: 4, Close: 4, Volume: models.Vol(1)}
	s.ApplyBaseBar(bar)
	*bar.Volume = 700

	agg, _ := s.GetOhlc(60)
	for i, v := range agg.Volumes {
		if v.Value != 1 {
			t.Fatalf("volume %d changed through a caller pointer: %v", i, v.Value)
		}
	}
}

func TestMissThenHit(t *testing.T) {
	agg := newCounting()
	s := newStore(t, WithAggregator(agg))
	s.SetBaseBars(minuteBars(1, 2, 3, 4, 5, 6))

	if _, err := s.GetOhlc(300); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := s.GetOhlc(300); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := agg.count(300); n != 1 {
		t.Fatalf("expected one aggregation, got %d", n)
	}
	if !s.IsCached(300) {
		t.Fatal("expected 300 cached")
	}
}

func TestDownsampleReturnsBase(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(minuteBars(1, 2, 3))
	low, err := s.GetOhlc(30)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	base, _ := s.GetOhlc(60)
	if !reflect.DeepEqual(low, base) || low.Len() != 3 {
		t.Fatalf("expected base aggregation, got %+v", low)
	}
	if _, err := s.GetOhlc(0); !errors.Is(err, aggregate.ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestIncrementalAppendMatchesFullRecompute(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	all := randomBars(r, 400)
	s := newStore(t)
	s.SetBaseBars(all[:50])
	resolutions := []int64{60, 300, 900, 3600}
	for _, res := range resolutions {
		if _, err := s.GetOhlc(res); err != nil {
			t.Fatalf("warm %d: %v", res, err)
		}
	}
	for _, b := range all[50:] {
		if out := s.ApplyBaseBar(b); out != models.Appended {
			t.Fatalf("expected append, got %s", out)
		}
	}
	for _, res := range resolutions {
		got, _ := s.GetOhlc(res)
		if !reflect.DeepEqual(got, fresh(t, all, res)) {
			t.Fatalf("res %d diverged from recompute", res)
		}
	}
}

func TestCorrectionMatchesFullRecompute(t *testing.T) {
	s := newStore(t)
	base := minuteBars(10, 11, 9, 12, 13)
	s.SetBaseBars(base)
	if _, err := s.GetOhlc(180); err != nil {
		t.Fatalf("warm: %v", err)
	}
	closeBefore, _ := s.GetClose(180)

	fix := models.Bar{Time: 240, Open: 13, High: 13, Low: 5, Close: 6, Volume: models.Vol(7)}
	if out := s.ApplyBaseBar(fix); out != models.Corrected {
		t.Fatalf("expected correction, got %s", out)
	}
	base[4] = fix

	got, _ := s.GetOhlc(180)
	if !reflect.DeepEqual(got, fresh(t, base, 180)) {
		t.Fatalf("correction diverged: %+v", got)
	}
	closes, _ := s.GetClose(180)
	if closes[1].Value != 6 || closeBefore[1].Value != 13 {
		t.Fatalf("scalar not refreshed: before %+v after %+v", closeBefore, closes)
	}
}

func TestBackfillInvalidates(t *testing.T) {
	agg := newCounting()
	s := newStore(t, WithAggregator(agg))
	base := minuteBars(10, 11, 9, 12, 13)
	s.SetBaseBars(base)
	if _, err := s.GetOhlc(180); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := s.GetSingle(180, models.MethodHL2); err != nil {
		t.Fatalf("warm single: %v", err)
	}

	fix := models.Bar{Time: 60, Open: 11, High: 20, Low: 11, Close: 11}
	if out := s.ApplyBaseBar(fix); out != models.Backfilled {
		t.Fatalf("expected backfill, got %s", out)
	}
	if st := s.Stats(); st.TotalCacheSize != 0 {
		t.Fatalf("expected caches cleared, got %+v", st)
	}
	base[1] = fix
	got, _ := s.GetOhlc(180)
	if !reflect.DeepEqual(got, fresh(t, base, 180)) {
		t.Fatalf("backfill result diverged: %+v", got)
	}
	if n := agg.count(180); n != 2 {
		t.Fatalf("expected recompute after backfill, got %d aggregations", n)
	}
}

func TestUnmatchedBackfillDropped(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(minuteBars(1, 2, 3))
	if _, err := s.GetOhlc(120); err != nil {
		t.Fatalf("warm: %v", err)
	}
	out := s.ApplyBaseBar(models.Bar{Time: 30, Close: 100})
	if out != models.Dropped {
		t.Fatalf("expected drop, got %s", out)
	}
	if s.BaseLen() != 3 || !s.IsCached(120) {
		t.Fatal("drop must not touch base or caches")
	}
}

func TestApplyToEmptyStore(t *testing.T) {
	s := newStore(t)
	outs := s.ApplyBaseBars(minuteBars(1, 2))
	if !reflect.DeepEqual(outs, []models.ApplyOutcome{models.Appended, models.Appended}) {
		t.Fatalf("unexpected outcomes %v", outs)
	}
	if s.BaseLen() != 2 {
		t.Fatalf("expected 2 base bars, got %d", s.BaseLen())
	}
}

func TestSingleRoundTrip(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(randomBars(rand.New(rand.NewSource(9)), 120))
	ohlc, _ := s.GetOhlc(900)
	for _, m := range models.Methods {
		vals, err := s.GetSingle(900, m)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if !reflect.DeepEqual(vals, aggregate.Project(ohlc.Bars, m)) {
			t.Fatalf("%s: projection mismatch", m)
		}
	}
	if _, err := s.GetSingle(900, "vwap"); !errors.Is(err, aggregate.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestReturnedSeriesAreCopies(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(minuteBars(1, 2, 3))
	got, _ := s.GetOhlc(120)
	got.Bars[0].Close = -1
	again, _ := s.GetOhlc(120)
	if again.Bars[0].Close == -1 {
		t.Fatal("cached series mutated through returned copy")
	}
}

func TestCacheBoundEvictsOldestHalf(t *testing.T) {
	s := newStore(t, WithMaxCacheSize(4))
	s.SetBaseBars(minuteBars(1, 2, 3, 4, 5))
	for _, res := range []int64{60, 120, 180, 240, 300} {
		if _, err := s.GetOhlc(res); err != nil {
			t.Fatalf("get %d: %v", res, err)
		}
	}
	got := s.CachedResolutions()
	if !reflect.DeepEqual(got, []int64{180, 240, 300}) {
		t.Fatalf("unexpected survivors %v", got)
	}
}

func TestCacheBoundWithSingleEntries(t *testing.T) {
	s := newStore(t, WithMaxCacheSize(1))
	s.SetBaseBars(minuteBars(1, 2, 3))
	if _, err := s.GetClose(120); err != nil {
		t.Fatalf("get close: %v", err)
	}
	if st := s.Stats(); st.TotalCacheSize > 1 {
		t.Fatalf("bound of one not enforced: %+v", st)
	}
}

func TestAutoCleanupEvictsOnTick(t *testing.T) {
	s, err := New(60, WithAutoCleanup(true, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(s.Destroy)
	s.SetBaseBars(minuteBars(1, 2, 3, 4, 5))
	for _, res := range []int64{60, 120, 180, 240} {
		s.GetOhlc(res)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.CachedResolutions()) > 1 {
		if time.Now().After(deadline) {
			t.Fatalf("periodic cleanup left %v", s.CachedResolutions())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.CachedResolutions(); !reflect.DeepEqual(got, []int64{240}) {
		t.Fatalf("cleanup must drop the oldest entries, kept %v", got)
	}
}

func TestClearResolution(t *testing.T) {
	s := newStore(t)
	s.SetBaseBars(minuteBars(1, 2, 3))
	s.GetOhlc(120)
	s.GetClose(120)
	s.GetOhlc(180)
	s.ClearResolution(120)
	if s.IsCached(120) || !s.IsCached(180) {
		t.Fatalf("unexpected cache %v", s.CachedResolutions())
	}
	if st := s.Stats(); st.SingleCacheSize != 0 {
		t.Fatalf("scalar entry of cleared resolution kept: %+v", st)
	}
	s.ClearAllCaches()
	if st := s.Stats(); st.TotalCacheSize != 0 || st.BaseBarsCount != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	s, err := New(60, WithAutoCleanup(true, 0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.SetBaseBars(minuteBars(1))
	s.Destroy()
	s.Destroy()
	if s.BaseLen() != 0 {
		t.Fatal("destroy kept base bars")
	}
}
