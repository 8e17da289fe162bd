package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnixSecondsAndMillis(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	for _, in := range []int64{ts, ts * 1000} {
		got, ok := ParseTime(strconv.FormatInt(in, 10))
		if !ok {
			t.Fatalf("expected ok for %d", in)
		}
		if got.Unix() != ts {
			t.Fatalf("unexpected unix %v for %d", got.Unix(), in)
		}
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default for garbage")
	}
}

func TestAlignRange(t *testing.T) {
	from := time.Unix(370, 0)
	to := time.Unix(610, 0)
	f, e := AlignRange(from, to, 300)
	if f.Unix() != 300 || e.Unix() != 900 {
		t.Fatalf("unexpected range %d..%d", f.Unix(), e.Unix())
	}
	f, e = AlignRange(time.Unix(600, 0), time.Unix(900, 0), 300)
	if f.Unix() != 600 || e.Unix() != 900 {
		t.Fatalf("aligned range moved: %d..%d", f.Unix(), e.Unix())
	}
}

func TestNormalizeSymbol(t *testing.T) {
	for _, in := range []string{"  btcusdt ", "BTC/USDT"} {
		if got := NormalizeSymbol(in); got != "BTCUSDT" {
			t.Fatalf("NormalizeSymbol(%q)=%q", in, got)
		}
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}
