package regime

import (
	"math"

	"riskpilot/internal/domain/models"
)

// SMA computes the simple moving average of closes over the last window
// candles. Returns 0 if insufficient data.
func SMA(candles []models.Candle, window int) float64 {
	if window <= 0 || len(candles) < window {
		return 0
	}
	sum := 0.0
	for i := len(candles) - window; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(window)
}

// ATRPercent computes the average true range over the last window candles,
// expressed as a percentage of the latest close.
// TR_t = max(H_t - L_t, |H_t - C_{t-1}|, |L_t - C_{t-1}|).
func ATRPercent(candles []models.Candle, window int) float64 {
	if window <= 0 || len(candles) < window+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - window; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		if hc := math.Abs(candles[i].High - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(candles[i].Low - prevClose); lc > tr {
			tr = lc
		}
		sum += tr
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0
	}
	return sum / float64(window) / last * 100
}

// TrendStrength computes a directional movement index over the last window
// candles, 0..100. Directional movement is accumulated per bar
// (+DM = up-move when it exceeds the down-move, -DM the reverse) and the
// strength is 100 * |+DM - -DM| / (+DM + -DM) weighted by true range.
func TrendStrength(candles []models.Candle, window int) float64 {
	if window <= 0 || len(candles) < window+1 {
		return 0
	}
	var plusDM, minusDM, trSum float64
	for i := len(candles) - window; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM += up
		}
		if down > up && down > 0 {
			minusDM += down
		}
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		if hc := math.Abs(candles[i].High - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(candles[i].Low - prevClose); lc > tr {
			tr = lc
		}
		trSum += tr
	}
	if trSum <= 0 {
		return 0
	}
	plusDI := 100 * plusDM / trSum
	minusDI := 100 * minusDM / trSum
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// DeviationPercent computes the signed deviation of the latest close from
// the long moving average, in percent.
func DeviationPercent(candles []models.Candle, longWindow int) float64 {
	longMA := SMA(candles, longWindow)
	if longMA <= 0 || len(candles) == 0 {
		return 0
	}
	last := candles[len(candles)-1].Close
	return (last - longMA) / longMA * 100
}

// RangeWidthPercent computes the high-low band width over the last window
// candles as a percentage of the band low.
func RangeWidthPercent(candles []models.Candle, window int) float64 {
	if window <= 0 || len(candles) < window {
		return 0
	}
	high := math.Inf(-1)
	low := math.Inf(1)
	for i := len(candles) - window; i < len(candles); i++ {
		if candles[i].High > high {
			high = candles[i].High
		}
		if candles[i].Low < low {
			low = candles[i].Low
		}
	}
	if low <= 0 || math.IsInf(low, 1) {
		return 0
	}
	return (high - low) / low * 100
}

// Reversals counts close-to-close direction changes over the last window
// candles. Flat moves keep the previous direction.
func Reversals(candles []models.Candle, window int) int {
	if window <= 1 || len(candles) < window {
		return 0
	}
	count := 0
	dir := 0
	for i := len(candles) - window + 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		next := dir
		if delta > 0 {
			next = 1
		} else if delta < 0 {
			next = -1
		}
		if dir != 0 && next != dir {
			count++
		}
		dir = next
	}
	return count
}
