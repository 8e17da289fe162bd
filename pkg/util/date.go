package util

import (
	"strconv"
	"time"
)

// msThreshold separates epoch milliseconds from epoch seconds; 1e11 seconds
// is roughly the year 5138.
const msThreshold = 1e11

// ParseTime accepts RFC3339, RFC3339Nano, unix seconds and unix
// milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(UnixSeconds(ts), 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// UnixSeconds converts an epoch value in seconds or milliseconds to seconds.
func UnixSeconds(ts int64) int64 {
	if ts > msThreshold || ts < -msThreshold {
		return ts / 1000
	}
	return ts
}

// AlignRange floors from and ceils to onto res second boundaries counted
// from the Unix epoch, so a range query never cuts a bucket in half.
func AlignRange(from, to time.Time, res int64) (time.Time, time.Time) {
	if res <= 0 {
		return from, to
	}
	f := floorDiv(from.Unix(), res) * res
	t := floorDiv(to.Unix(), res) * res
	if t < to.Unix() {
		t += res
	}
	return time.Unix(f, 0).UTC(), time.Unix(t, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
