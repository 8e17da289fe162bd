package models

// Bar is one OHLCV record at some resolution. Time is Unix seconds (UTC).
// A nil Volume means the source did not report one.
type Bar struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// VolumeOrZero returns the bar volume, treating absent as 0.
func (b Bar) VolumeOrZero() float64 {
	if b.Volume == nil {
		return 0
	}
	return *b.Volume
}

// Vol is a helper for building bars with a volume.
func Vol(v float64) *float64 { return &v }

// OHLC is an aggregated candle without volume.
type OHLC struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// VolumePoint is the volume paired with an aggregated candle.
type VolumePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// AggregatedSeries is a derived series at one resolution. Bars and Volumes are
// index-aligned.
type AggregatedSeries struct {
	Bars    []OHLC
	Volumes []VolumePoint
}

// Len returns the number of aggregated bars.
func (s AggregatedSeries) Len() int { return len(s.Bars) }

// Clone returns a deep copy safe to hand to callers.
func (s AggregatedSeries) Clone() AggregatedSeries {
	out := AggregatedSeries{
		Bars:    make([]OHLC, len(s.Bars)),
		Volumes: make([]VolumePoint, len(s.Volumes)),
	}
	copy(out.Bars, s.Bars)
	copy(out.Volumes, s.Volumes)
	return out
}

// Merge zips candles with volumes into the public Bar shape. Bars past the end
// of the volume slice carry no volume.
func (s AggregatedSeries) Merge() []Bar {
	out := make([]Bar, len(s.Bars))
	for i, d := range s.Bars {
		out[i] = Bar{Time: d.Time, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close}
		if i < len(s.Volumes) {
			out[i].Volume = Vol(s.Volumes[i].Value)
		}
	}
	return out
}

// SingleValue is one scalar point derived from a candle.
type SingleValue struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Method selects the scalar projection of a candle.
type Method string

const (
	MethodClose Method = "close"
	MethodOpen  Method = "open"
	MethodHigh  Method = "high"
	MethodLow   Method = "low"
	MethodHL2   Method = "hl2"
	MethodHLC3  Method = "hlc3"
	MethodOHLC4 Method = "ohlc4"
)

// Methods lists every supported projection.
var Methods = []Method{MethodClose, MethodOpen, MethodHigh, MethodLow, MethodHL2, MethodHLC3, MethodOHLC4}

// ApplyOutcome classifies what an incremental base bar did to a series.
type ApplyOutcome int

const (
	// Ignored means the bar was addressed to an unknown symbol.
	Ignored ApplyOutcome = iota
	// Appended is a realtime append after the last base bar.
	Appended
	// Corrected replaced the last base bar.
	Corrected
	// Backfilled replaced an older base bar; all caches were invalidated.
	Backfilled
	// Dropped means an older bar matched nothing in the retained history.
	Dropped
)

func (o ApplyOutcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Corrected:
		return "corrected"
	case Backfilled:
		return "backfilled"
	case Dropped:
		return "dropped"
	default:
		return "ignored"
	}
}
