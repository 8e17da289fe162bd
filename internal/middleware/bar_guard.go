package middleware

import (
	"errors"
	"fmt"
	"math"

	"ChartCache/internal/domain/models"
	domrepo "ChartCache/internal/domain/repository"
)

var ErrInvalidBar = errors.New("invalid bar")

// BarGuard sits between realtime sources and the registry and drops bars
// that would corrupt aggregation.
type BarGuard struct {
	metrics domrepo.Metrics
}

func NewBarGuard(metrics domrepo.Metrics) *BarGuard {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &BarGuard{metrics: metrics}
}

// Filter returns the valid bars of in, preserving order, and the first
// validation error seen.
func (g *BarGuard) Filter(in []models.Bar) ([]models.Bar, error) {
	var first error
	out := in[:0:0]
	for _, b := range in {
		if err := ValidateBar(b); err != nil {
			g.metrics.RecordError("bar_invalid")
			if first == nil {
				first = err
			}
			continue
		}
		out = append(out, b)
	}
	return out, first
}

// ValidateBar checks that prices are finite and ordered and volume, when
// present, is non-negative.
func ValidateBar(b models.Bar) error {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite price at %d", ErrInvalidBar, b.Time)
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %v below low %v at %d", ErrInvalidBar, b.High, b.Low, b.Time)
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("%w: open/close outside high/low at %d", ErrInvalidBar, b.Time)
	}
	if b.Volume != nil && (*b.Volume < 0 || math.IsNaN(*b.Volume)) {
		return fmt.Errorf("%w: volume %v at %d", ErrInvalidBar, *b.Volume, b.Time)
	}
	return nil
}
