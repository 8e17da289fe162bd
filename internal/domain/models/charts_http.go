package models

// Requests for chart HTTP endpoints.

type BarsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	// TF may be empty; the server then picks one from the range.
	TF     string `query:"tf" json:"tf"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"5000" validate:"gte=1,lte=50000"`
}

type SingleRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"required"`
	Method string `query:"method" json:"method" default:"close" validate:"oneof=close open high low hl2 hlc3 ohlc4"`
}

type WarmupRequest struct {
	Symbol     string   `json:"symbol" validate:"required"`
	Timeframes []string `json:"timeframes"`
	// IntervalSec > 0 starts a recurring warm-up instead of a one-shot.
	IntervalSec int  `json:"interval_sec" validate:"gte=0"`
	Stop        bool `json:"stop"`
}

type BarsResponse struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"tf"`
	Count     int    `json:"count"`
	Bars      []Bar  `json:"bars"`
}

type SingleResponse struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"tf"`
	Method    string        `json:"method"`
	Count     int           `json:"count"`
	Values    []SingleValue `json:"values"`
}

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

type WarmupResponse struct {
	Symbol      string  `json:"symbol"`
	Resolutions []int64 `json:"resolutions"`
	Scheduled   bool    `json:"scheduled"`
	Stopped     bool    `json:"stopped"`
}

type RemoveResponse struct {
	Symbol  string `json:"symbol"`
	Removed bool   `json:"removed"`
}
