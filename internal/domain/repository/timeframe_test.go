package repository

import (
	"reflect"
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]int64{"1m": 60, "4h": 14400, "1M": 2592000, "1y": 31536000, "90s": 90}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		if err != nil || got != want {
			t.Fatalf("ParseTimeframe(%q)=%d,%v want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "7x", "0s", "-5s", "s"} {
		if _, err := ParseTimeframe(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestTimeframeFromSeconds(t *testing.T) {
	if got := TimeframeFromSeconds(900); got != TF15m {
		t.Fatalf("got %s", got)
	}
	if got := TimeframeFromSeconds(90); got != "90s" {
		t.Fatalf("got %s", got)
	}
	if TF1d.Seconds() != 86400 || Timeframe("bogus").Seconds() != 0 {
		t.Fatal("unexpected Seconds")
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	if NormalizeTimeframe("") != TF1m || NormalizeTimeframe("2m") != TF1m || NormalizeTimeframe("1h") != TF1h {
		t.Fatal("unexpected normalization")
	}
	if !IsValidTimeframe(TF3d) || IsValidTimeframe("2m") {
		t.Fatal("unexpected validity")
	}
}

func TestWarmupLists(t *testing.T) {
	all := WarmupList(3600)
	if all[0] != 10800 || all[len(all)-1] != 31536000 {
		t.Fatalf("unexpected warmup list %v", all)
	}
	if got := CommonWarmupList(900); !reflect.DeepEqual(got, []int64{1800, 3600, 14400, 86400}) {
		t.Fatalf("unexpected common list %v", got)
	}
}

func TestNeighbouringTimeframes(t *testing.T) {
	if n, ok := NextTimeframe(60); !ok || n != 180 {
		t.Fatalf("next of 1m: %d %v", n, ok)
	}
	if _, ok := NextTimeframe(31536000); ok {
		t.Fatal("1y has no successor")
	}
	if p, ok := PreviousTimeframe(3600); !ok || p != 1800 {
		t.Fatalf("previous of 1h: %d %v", p, ok)
	}
	if _, ok := PreviousTimeframe(60); ok {
		t.Fatal("1m has no predecessor")
	}
	if _, ok := NextTimeframe(90); ok {
		t.Fatal("off-table resolution has no successor")
	}
}

func TestCompatible(t *testing.T) {
	if !Compatible(60, 300) || !Compatible(60, 60) {
		t.Fatal("multiples must be compatible")
	}
	if Compatible(60, 90) || Compatible(300, 60) || Compatible(0, 60) {
		t.Fatal("non-multiples must not be compatible")
	}
}

func TestRecommendTimeframe(t *testing.T) {
	from := time.Unix(0, 0)
	cases := []struct {
		span time.Duration
		want int64
	}{
		{time.Hour, 300},
		{3 * 24 * time.Hour, 900},
		{20 * 24 * time.Hour, 3600},
		{60 * 24 * time.Hour, 14400},
		{400 * 24 * time.Hour, 86400},
	}
	for _, tc := range cases {
		if got := RecommendTimeframe(from, from.Add(tc.span)); got != tc.want {
			t.Fatalf("span %s: got %d want %d", tc.span, got, tc.want)
		}
	}
}
