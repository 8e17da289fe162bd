package repository

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	pkghttp "ChartCache/pkg/http"
)

const klinesPath = "/api/v1/klines"

// HTTPBarSource loads base bars from a klines REST API.
type HTTPBarSource struct {
	client *pkghttp.Client
}

var _ repository.BarSource = (*HTTPBarSource)(nil)

// NewHTTPBarSource creates a source on top of a configured client.
func NewHTTPBarSource(client *pkghttp.Client) *HTTPBarSource {
	return &HTTPBarSource{client: client}
}

func (s *HTTPBarSource) GetBaseBars(ctx context.Context, symbol string, from, to time.Time, baseRes int64, limit int) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(repository.TimeframeFromSeconds(baseRes)))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !from.IsZero() {
		q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		q.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	}

	var rows []models.Kline
	if err := s.client.GetJSON(ctx, klinesPath, q, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	bars := make([]models.Bar, len(rows))
	for i, k := range rows {
		bars[i] = k.Bar()
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	return bars, nil
}
