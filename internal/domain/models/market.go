package models

import "time"

// Tick is one normalized update from the exchange stream. Stats is non-nil
// only for frames that carry rolling 24h statistics.
type Tick struct {
	Symbol    string
	Price     float64
	Qty       float64
	Timestamp int64 // unix seconds
	Stats     *TickStats
}

// TickStats mirrors the exchange's rolling 24h mini-ticker fields.
type TickStats struct {
	Open24h   float64
	High24h   float64
	Low24h    float64
	Volume24h float64
}

// Candle is one OHLCV bucket for a symbol and timeframe.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Apply folds one traded price and quantity into the candle.
func (c *Candle) Apply(price, qty float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
}

// MarketSnapshot is the latest per-symbol market view handed to readers.
// Consumers must check Fresh before trusting it.
type MarketSnapshot struct {
	Symbol    string
	LastPrice float64
	Open24h   float64
	High24h   float64
	Low24h    float64
	Volume24h float64
	UpdatedAt time.Time
}

// Fresh reports whether the snapshot was updated within ttl of now.
func (s MarketSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) < ttl
}

// ChangePercent returns the 24h percent change, or 0 when the open is unknown.
func (s MarketSnapshot) ChangePercent() float64 {
	if s.Open24h <= 0 {
		return 0
	}
	return (s.LastPrice - s.Open24h) / s.Open24h * 100
}
