package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
)

// CHBarSource reads base bars from a ClickHouse table holding bars at a
// fixed native resolution. Coarser base resolutions are rolled up in SQL.
type CHBarSource struct {
	db       *sql.DB
	table    string
	tableRes int64
}

var (
	_ repository.BarSource = (*CHBarSource)(nil)
	_ repository.BarSink   = (*CHBarSource)(nil)
)

// NewCHBarSource creates a bar source over table, whose rows are tableRes
// seconds apart.
func NewCHBarSource(db *sql.DB, table string, tableRes int64) *CHBarSource {
	if tableRes <= 0 {
		tableRes = 60
	}
	return &CHBarSource{db: db, table: table, tableRes: tableRes}
}

// BarsSchema returns the DDL for a bars table.
func BarsSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime('UTC'),
	symbol LowCardinality(String),
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	volume Nullable(Float64)
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, table)}
}

func (s *CHBarSource) GetBaseBars(ctx context.Context, symbol string, from, to time.Time, baseRes int64, limit int) ([]models.Bar, error) {
	q, args, err := s.selectQuery(symbol, from, to, baseRes, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	bars := make([]models.Bar, 0, limit)
	for rows.Next() {
		var (
			b  models.Bar
			ts time.Time
			v  sql.NullFloat64
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &v); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Time = ts.Unix()
		if v.Valid {
			b.Volume = models.Vol(v.Float64)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first keeps the tail under limit; callers want ascending
	slices.Reverse(bars)
	return bars, nil
}

func (s *CHBarSource) selectQuery(symbol string, from, to time.Time, baseRes int64, limit int) (string, []interface{}, error) {
	if baseRes <= 0 || baseRes%s.tableRes != 0 {
		return "", nil, fmt.Errorf("base resolution %ds is not a multiple of table resolution %ds", baseRes, s.tableRes)
	}
	if limit <= 0 {
		limit = 1000
	}
	args := []interface{}{symbol, from.UTC(), to.UTC(), limit}
	if baseRes == s.tableRes {
		return fmt.Sprintf(`SELECT ts, open, high, low, close, volume FROM %s FINAL
WHERE symbol = ? AND ts >= ? AND ts < ?
ORDER BY ts DESC LIMIT ?`, s.table), args, nil
	}
	return fmt.Sprintf(`SELECT toStartOfInterval(ts, INTERVAL %d SECOND) AS bucket,
	argMin(open, ts), max(high), min(low), argMax(close, ts), sumOrNull(volume)
FROM %s FINAL
WHERE symbol = ? AND ts >= ? AND ts < ?
GROUP BY bucket
ORDER BY bucket DESC LIMIT ?`, baseRes, s.table), args, nil
}

// InsertBars writes bars in multi-row chunks.
func (s *CHBarSource) InsertBars(ctx context.Context, symbol string, bars []models.Bar) error {
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := min(start+chunkSize, len(bars))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			var vol interface{}
			if b.Volume != nil {
				vol = *b.Volume
			}
			args = append(args, time.Unix(b.Time, 0).UTC(), symbol, b.Open, b.High, b.Low, b.Close, vol)
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, open, high, low, close, volume) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars %s: %w", symbol, err)
		}
	}
	return nil
}

// Health pings the database.
func (s *CHBarSource) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
