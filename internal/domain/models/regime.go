package models

import "time"

// RegimeLabel classifies the prevailing market character for a symbol.
type RegimeLabel string

const (
	RegimeTrending RegimeLabel = "trending"
	RegimeRanging  RegimeLabel = "ranging"
	RegimeChoppy   RegimeLabel = "choppy"
)

func (l RegimeLabel) IsValid() bool {
	return l == RegimeTrending || l == RegimeRanging || l == RegimeChoppy
}

// RegimeIndicators carries the inputs behind a classification. Kept on the
// state for diagnostics and the status API.
type RegimeIndicators struct {
	ShortMA       float64
	LongMA        float64
	VolatilityPct float64
	TrendStrength float64 // directional movement proxy, 0..100
	DeviationPct  float64 // signed deviation of close from the long MA
	RangeWidthPct float64
	Reversals     int
	Samples       int
}

// RegimeState is the committed classification for one symbol.
type RegimeState struct {
	Symbol        string
	Label         RegimeLabel
	Confidence    float64
	Indicators    RegimeIndicators
	EnteredAt     time.Time // when the current label was committed
	EvaluatedAt   time.Time // last evaluation, committed or not
	Switches      int       // committed label changes since start
	Confirmations int       // consecutive readings of the pending label
}
