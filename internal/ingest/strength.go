package ingest

import "math"

// strengthPeriod is the Wilder smoothing span of the tick strength meter.
const strengthPeriod = 14

// StrengthMeter tracks directional strength tick over tick. Each price folds
// an up move or a down move into a pair of Wilder-smoothed running averages;
// their imbalance maps to a 0-100 reading. O(1) per tick, no history buffer.
type StrengthMeter struct {
	alpha  float64
	prev   float64
	up     float64
	down   float64
	primed bool
}

func NewStrengthMeter(period int) *StrengthMeter {
	if period <= 0 {
		period = strengthPeriod
	}
	return &StrengthMeter{alpha: 1 / float64(period)}
}

// Advance folds one price into the running averages. The first price only
// primes the reference; non-positive prices are ignored.
func (m *StrengthMeter) Advance(price float64) {
	if price <= 0 {
		return
	}
	if !m.primed {
		m.prev = price
		m.primed = true
		return
	}
	var up, down float64
	if d := price - m.prev; d > 0 {
		up = d
	} else {
		down = -d
	}
	m.up += m.alpha * (up - m.up)
	m.down += m.alpha * (down - m.down)
	m.prev = price
}

// Value reports the current reading: 0 when balanced or unprimed, toward 100
// when movement is one-sided.
func (m *StrengthMeter) Value() float64 {
	total := m.up + m.down
	if total == 0 {
		return 0
	}
	return math.Abs(m.up-m.down) / total * 100
}
