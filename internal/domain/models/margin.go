package models

import (
	"math"
	"time"
)

// AccountSnapshot is the account-wide equity and margin picture fetched from
// the exchange. Stale marks a snapshot served from the last known good value
// after live lookups failed.
type AccountSnapshot struct {
	Equity        float64 // wallet balance plus unrealized pnl
	WalletBalance float64
	UnrealizedPnL float64
	MarginUsed    float64
	Available     float64
	Positions     []PositionRisk
	FetchedAt     time.Time
	Stale         bool
}

// MarginRatio returns equity divided by margin in use. With no margin at risk
// the ratio is +Inf; callers cap it before reporting.
func (a *AccountSnapshot) MarginRatio() float64 {
	if a.MarginUsed <= 0 {
		return math.Inf(1)
	}
	return a.Equity / a.MarginUsed
}

// PositionRisk is the exchange's per-position risk view.
type PositionRisk struct {
	Symbol           string
	Side             Side
	EntryPrice       float64
	MarkPrice        float64
	Quantity         float64
	Leverage         float64
	LiquidationPrice float64
	UnrealizedPnL    float64
}

// LiquidationDistance returns the fraction of mark price separating the
// position from its liquidation price, or +Inf when either is unknown.
func (p *PositionRisk) LiquidationDistance() float64 {
	if p.MarkPrice <= 0 || p.LiquidationPrice <= 0 {
		return math.Inf(1)
	}
	return math.Abs(p.MarkPrice-p.LiquidationPrice) / p.MarkPrice
}

// MarginLevel grades account health from the margin ratio.
type MarginLevel string

const (
	MarginSafe     MarginLevel = "safe"
	MarginWarning  MarginLevel = "warning"
	MarginDanger   MarginLevel = "danger"
	MarginCritical MarginLevel = "critical"
)

// Severity orders levels for gauges and rate limiting. Higher is worse.
func (l MarginLevel) Severity() int {
	switch l {
	case MarginWarning:
		return 1
	case MarginDanger:
		return 2
	case MarginCritical:
		return 3
	default:
		return 0
	}
}

// MarginReport is the conclusion of one guard sweep.
type MarginReport struct {
	Level      MarginLevel
	Ratio      float64
	Equity     float64
	MarginUsed float64
	AtRisk     []PositionRisk // positions close to their liquidation price
	Stale      bool
	CheckedAt  time.Time
}
