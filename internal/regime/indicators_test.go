package regime

import (
	"math"
	"testing"

	"riskpilot/internal/domain/models"
)

func closesToCandles(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	candles := closesToCandles([]float64{1, 2, 3, 4, 5})
	if got := SMA(candles, 3); !almostEqual(got, 4) {
		t.Fatalf("SMA(3) = %v, want 4", got)
	}
	if got := SMA(candles, 5); !almostEqual(got, 3) {
		t.Fatalf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(candles, 6); got != 0 {
		t.Fatalf("SMA beyond data = %v, want 0", got)
	}
}

func TestATRPercent(t *testing.T) {
	candles := []models.Candle{
		{High: 110, Low: 90, Close: 100},
		{High: 120, Low: 100, Close: 110},
		{High: 115, Low: 105, Close: 112},
	}
	// TR2 = 20, TR3 = 10, ATR = 15, 15/112*100
	want := 15.0 / 112.0 * 100
	if got := ATRPercent(candles, 2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("ATRPercent = %v, want %v", got, want)
	}
	if got := ATRPercent(candles, 3); got != 0 {
		t.Fatalf("ATRPercent without lead candle = %v, want 0", got)
	}
}

func TestReversals(t *testing.T) {
	if got := Reversals(closesToCandles([]float64{1, 2, 1, 2, 1}), 5); got != 3 {
		t.Fatalf("alternating reversals = %d, want 3", got)
	}
	// flat moves keep the previous direction
	if got := Reversals(closesToCandles([]float64{1, 2, 2, 1}), 4); got != 1 {
		t.Fatalf("flat-hold reversals = %d, want 1", got)
	}
	if got := Reversals(closesToCandles([]float64{1, 2, 3, 4}), 4); got != 0 {
		t.Fatalf("monotonic reversals = %d, want 0", got)
	}
}

func TestRangeWidthPercent(t *testing.T) {
	candles := []models.Candle{
		{High: 101, Low: 99, Close: 100},
		{High: 120, Low: 100, Close: 110},
		{High: 115, Low: 105, Close: 112},
	}
	// window 2: high 120, low 100
	if got := RangeWidthPercent(candles, 2); !almostEqual(got, 20) {
		t.Fatalf("RangeWidthPercent = %v, want 20", got)
	}
}

func TestTrendStrengthDirectional(t *testing.T) {
	up := make([]models.Candle, 20)
	for i := range up {
		c := 100 + float64(i)
		up[i] = models.Candle{Open: c - 0.5, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	if got := TrendStrength(up, 14); got < 90 {
		t.Fatalf("monotonic strength = %v, want >= 90", got)
	}

	flat := make([]models.Candle, 20)
	for i := range flat {
		c := 100.0
		if i%2 == 1 {
			c = 101
		}
		flat[i] = models.Candle{Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	if got := TrendStrength(flat, 14); got > 30 {
		t.Fatalf("alternating strength = %v, want low", got)
	}
}

func TestDeviationPercent(t *testing.T) {
	candles := closesToCandles([]float64{100, 100, 100, 100, 110})
	// long MA over 5 = 102, deviation of 110
	want := (110.0 - 102.0) / 102.0 * 100
	if got := DeviationPercent(candles, 5); math.Abs(got-want) > 1e-9 {
		t.Fatalf("DeviationPercent = %v, want %v", got, want)
	}
}
