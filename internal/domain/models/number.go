package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number decodes from a JSON number or a numeric string. Exchanges send
// prices as strings to keep precision.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = Number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

// Float returns n as float64.
func (n Number) Float() float64 { return float64(n) }

// NumberPtr converts an optional Number into an optional float.
func NumberPtr(n *Number) *float64 {
	if n == nil {
		return nil
	}
	return Vol(float64(*n))
}

// Kline is a wire candle as sent by klines APIs: millisecond timestamp and
// string-or-number values.
type Kline struct {
	Timestamp int64   `json:"timestamp"`
	Open      Number  `json:"open"`
	High      Number  `json:"high"`
	Low       Number  `json:"low"`
	Close     Number  `json:"close"`
	Volume    *Number `json:"volume,omitempty"`
}

// Bar converts k, floored to whole seconds.
func (k Kline) Bar() Bar {
	return Bar{
		Time:   k.Timestamp / 1000,
		Open:   k.Open.Float(),
		High:   k.High.Float(),
		Low:    k.Low.Float(),
		Close:  k.Close.Float(),
		Volume: NumberPtr(k.Volume),
	}
}
