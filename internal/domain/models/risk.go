package models

import "time"

// RiskStats is the per-day trading ledger. Persisted across restarts so a
// crash cannot reset daily loss limits.
type RiskStats struct {
	Day               string // UTC day key, formatted 2006-01-02
	StartBalance      float64
	DailyProfit       float64 // gross winning pnl, quote currency
	DailyLoss         float64 // gross losing pnl, stored positive
	ConsecutiveLosses int
	TradesOpened      int
	TradesClosed      int
	TradesThisHour    int
	HourStart         time.Time
	LastLossAt        time.Time
	CooldownUntil     time.Time
	UpdatedAt         time.Time
}

// NetPnL returns the day's realized profit minus loss.
func (s *RiskStats) NetPnL() float64 {
	return s.DailyProfit - s.DailyLoss
}

// RiskVerdict is the outcome of a trade admission check. Reason is empty when
// the trade is allowed.
type RiskVerdict struct {
	Allowed bool
	Reason  string
}
