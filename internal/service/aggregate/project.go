package aggregate

import (
	"fmt"

	"ChartCache/internal/domain/models"
)

// ParseMethod validates a projection name.
func ParseMethod(s string) (models.Method, error) {
	m := models.Method(s)
	for _, known := range models.Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Project maps every candle to a scalar using m.
func Project(bars []models.OHLC, m models.Method) []models.SingleValue {
	out := make([]models.SingleValue, len(bars))
	for i, d := range bars {
		out[i] = models.SingleValue{Time: d.Time, Value: value(d, m)}
	}
	return out
}

func value(d models.OHLC, m models.Method) float64 {
	switch m {
	case models.MethodOpen:
		return d.Open
	case models.MethodHigh:
		return d.High
	case models.MethodLow:
		return d.Low
	case models.MethodHL2:
		return (d.High + d.Low) / 2
	case models.MethodHLC3:
		return (d.High + d.Low + d.Close) / 3
	case models.MethodOHLC4:
		return (d.Open + d.High + d.Low + d.Close) / 4
	default:
		return d.Close
	}
}
