package repository

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timeframe is the string form of a resolution, e.g. "5m".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF3h  Timeframe = "3h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF3d  Timeframe = "3d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
	TF1y  Timeframe = "1y"
)

var tfSeconds = map[Timeframe]int64{
	TF1m:  60,
	TF3m:  180,
	TF5m:  300,
	TF15m: 900,
	TF30m: 1800,
	TF1h:  3600,
	TF3h:  10800,
	TF4h:  14400,
	TF6h:  21600,
	TF8h:  28800,
	TF12h: 43200,
	TF1d:  86400,
	TF3d:  259200,
	TF1w:  604800,
	TF1M:  2592000,
	TF1y:  31536000,
}

// Seconds returns the resolution in seconds, or 0 if tf is unknown.
func (tf Timeframe) Seconds() int64 { return tfSeconds[tf] }

// ParseTimeframe converts a timeframe string to seconds. A bare "<n>s" suffix
// is accepted for resolutions outside the table.
func ParseTimeframe(s string) (int64, error) {
	if v, ok := tfSeconds[Timeframe(s)]; ok {
		return v, nil
	}
	if n, ok := strings.CutSuffix(s, "s"); ok {
		if v, err := strconv.ParseInt(n, 10, 64); err == nil && v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unsupported timeframe: %q", s)
}

// TimeframeFromSeconds returns the table name for sec, falling back to "<sec>s".
func TimeframeFromSeconds(sec int64) Timeframe {
	for tf, v := range tfSeconds {
		if v == sec {
			return tf
		}
	}
	return Timeframe(strconv.FormatInt(sec, 10) + "s")
}

// IsValidTimeframe returns true if tf is in the supported table.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := tfSeconds[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// SupportedResolutions returns every table resolution in ascending order.
func SupportedResolutions() []int64 {
	out := make([]int64, 0, len(tfSeconds))
	for _, v := range tfSeconds {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WarmupList returns every supported resolution larger than base.
func WarmupList(base int64) []int64 {
	out := make([]int64, 0, len(tfSeconds))
	for _, v := range SupportedResolutions() {
		if v > base {
			out = append(out, v)
		}
	}
	return out
}

// CommonWarmupList returns 5m, 15m, 30m, 1h, 4h and 1d where larger than base.
func CommonWarmupList(base int64) []int64 {
	common := []int64{300, 900, 1800, 3600, 14400, 86400}
	out := make([]int64, 0, len(common))
	for _, v := range common {
		if v > base {
			out = append(out, v)
		}
	}
	return out
}

// NextTimeframe returns the next larger table resolution.
func NextTimeframe(sec int64) (int64, bool) {
	all := SupportedResolutions()
	i := sort.Search(len(all), func(i int) bool { return all[i] >= sec })
	if i >= len(all) || all[i] != sec || i == len(all)-1 {
		return 0, false
	}
	return all[i+1], true
}

// PreviousTimeframe returns the next smaller table resolution.
func PreviousTimeframe(sec int64) (int64, bool) {
	all := SupportedResolutions()
	i := sort.Search(len(all), func(i int) bool { return all[i] >= sec })
	if i >= len(all) || all[i] != sec || i == 0 {
		return 0, false
	}
	return all[i-1], true
}

// Compatible reports whether target is a whole multiple (>= 1) of base.
func Compatible(base, target int64) bool {
	if base <= 0 || target <= 0 {
		return false
	}
	return target >= base && target%base == 0
}

// RecommendTimeframe picks a display resolution for a time range.
func RecommendTimeframe(from, to time.Time) int64 {
	days := to.Sub(from).Hours() / 24
	switch {
	case days <= 1:
		return 300
	case days <= 7:
		return 900
	case days <= 30:
		return 3600
	case days <= 90:
		return 14400
	default:
		return 86400
	}
}
