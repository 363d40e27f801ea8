package domain

import (
	"fmt"
	"time"
)

// Timeframe is a fixed candle interval identifier ("1m", "5m", ...).
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("domain: unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the wall-clock length of one candle interval.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Millis returns the interval length in milliseconds, the unit used for
// candle open timestamps.
func (tf Timeframe) Millis() int64 {
	return timeframeDurations[tf].Milliseconds()
}

// CandleSource tags where a candle came from.
type CandleSource string

const (
	// CandleHistorical marks candles returned by the venue's history endpoint.
	CandleHistorical CandleSource = "historical"
	// CandleAggregated marks candles built (or synthesized across gaps) from
	// live trade ticks.
	CandleAggregated CandleSource = "aggregated"
)

// Candle is one OHLCV aggregate over a fixed interval. OpenTime is Unix
// milliseconds aligned to the interval boundary.
type Candle struct {
	Timeframe Timeframe
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    CandleSource
}

// Tick is a single observed trade from a venue's trade feed. Timestamp is
// Unix milliseconds.
type Tick struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp int64
}
