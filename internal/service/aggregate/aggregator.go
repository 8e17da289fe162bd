package aggregate

import (
	"fmt"
	"math"

	"ChartCache/internal/domain/models"
)

// Aggregator builds and maintains derived-resolution series from base bars.
type Aggregator interface {
	// Aggregate scans base (sorted ascending by time) once.
	Aggregate(base []models.Bar, res int64) (models.AggregatedSeries, error)
	// MergeIncremental folds bar into the last bucket of s or appends a new
	// one. bar's bucket must not precede the last bucket of s.
	MergeIncremental(s *models.AggregatedSeries, bar models.Bar, res int64) error
	// RebuildLast recomputes the final bucket of s from tail, the base bars
	// falling in that bucket.
	RebuildLast(s *models.AggregatedSeries, tail []models.Bar, res int64) error
}

// Default is the production Aggregator.
type Default struct{}

var _ Aggregator = Default{}

type bucket struct {
	time                   int64
	open, high, low, close float64
	vol                    float64
}

func newBucket(t int64, b models.Bar) bucket {
	return bucket{time: t, open: b.Open, high: b.High, low: b.Low, close: b.Close, vol: b.VolumeOrZero()}
}

func (k *bucket) fold(b models.Bar) {
	k.high = math.Max(k.high, b.High)
	k.low = math.Min(k.low, b.Low)
	k.close = b.Close
	k.vol += b.VolumeOrZero()
}

func (k bucket) flush(s *models.AggregatedSeries) {
	s.Bars = append(s.Bars, models.OHLC{Time: k.time, Open: k.open, High: k.high, Low: k.low, Close: k.close})
	s.Volumes = append(s.Volumes, models.VolumePoint{Time: k.time, Value: k.vol})
}

func (Default) Aggregate(base []models.Bar, res int64) (models.AggregatedSeries, error) {
	if res <= 0 {
		return models.AggregatedSeries{}, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	out := models.AggregatedSeries{
		Bars:    make([]models.OHLC, 0, len(base)),
		Volumes: make([]models.VolumePoint, 0, len(base)),
	}
	var (
		cur  bucket
		open bool
	)
	for _, b := range base {
		t, _ := BucketStart(b.Time, res)
		if open && t == cur.time {
			cur.fold(b)
			continue
		}
		if open {
			cur.flush(&out)
		}
		cur = newBucket(t, b)
		open = true
	}
	if open {
		cur.flush(&out)
	}
	return out, nil
}

func (Default) MergeIncremental(s *models.AggregatedSeries, bar models.Bar, res int64) error {
	t, err := BucketStart(bar.Time, res)
	if err != nil {
		return err
	}
	n := len(s.Bars)
	if n == 0 || t > s.Bars[n-1].Time {
		newBucket(t, bar).flush(s)
		return nil
	}
	last := &s.Bars[n-1]
	if t < last.Time {
		return fmt.Errorf("%w: bucket %d < %d", ErrOutOfOrder, t, last.Time)
	}
	last.High = math.Max(last.High, bar.High)
	last.Low = math.Min(last.Low, bar.Low)
	last.Close = bar.Close
	if len(s.Volumes) == n {
		s.Volumes[n-1].Value += bar.VolumeOrZero()
	}
	return nil
}

func (a Default) RebuildLast(s *models.AggregatedSeries, tail []models.Bar, res int64) error {
	rebuilt, err := a.Aggregate(tail, res)
	if err != nil {
		return err
	}
	if rebuilt.Len() != 1 {
		return fmt.Errorf("%w: tail spans %d buckets", ErrOutOfOrder, rebuilt.Len())
	}
	n := len(s.Bars)
	if n == 0 || s.Bars[n-1].Time != rebuilt.Bars[0].Time {
		return fmt.Errorf("%w: tail bucket %d is not the last bucket", ErrOutOfOrder, rebuilt.Bars[0].Time)
	}
	s.Bars[n-1] = rebuilt.Bars[0]
	if len(s.Volumes) == n {
		s.Volumes[n-1] = rebuilt.Volumes[0]
	}
	return nil
}
