package models

import "time"

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) IsValid() bool {
	return s == SideLong || s == SideShort
}

// Position is one open leveraged position under management.
type Position struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	Leverage   float64
	OpenedAt   time.Time
}

// PriceChange returns the signed price-space move fraction for the position
// direction. Positive means the position is in profit.
func (p *Position) PriceChange(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	chg := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		chg = -chg
	}
	return chg
}

// MarginChange returns the profit fraction on margin, i.e. the price-space
// change scaled by leverage.
func (p *Position) MarginChange(price float64) float64 {
	return p.PriceChange(price) * p.SafeLeverage()
}

// SafeLeverage clamps leverage to a floor of 1.
func (p *Position) SafeLeverage() float64 {
	if p.Leverage < 1 {
		return 1
	}
	return p.Leverage
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Notional returns the quote-denominated position size at entry.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// QuotePnL returns the quote-currency profit at the given price.
func (p *Position) QuotePnL(price float64) float64 {
	return p.PriceChange(price) * p.Notional()
}

// EstimateLiquidation approximates the isolated-margin liquidation price from
// entry price, leverage and the maintenance margin rate.
func (p *Position) EstimateLiquidation(maintMarginRate float64) float64 {
	lev := p.SafeLeverage()
	if p.Side == SideLong {
		return p.EntryPrice * (1 - 1/lev + maintMarginRate)
	}
	return p.EntryPrice * (1 + 1/lev - maintMarginRate)
}

// CloseReason identifies which rule closed a position.
type CloseReason string

const (
	ReasonCriticalLossCut CloseReason = "critical_loss_cut"
	ReasonLossCut         CloseReason = "loss_cut"
	ReasonTimeout         CloseReason = "timeout"
	ReasonTrailHitProfit  CloseReason = "trail_hit_profit"
	ReasonTrailHitLoss    CloseReason = "trail_hit_loss"
	ReasonMaxHoldingTime  CloseReason = "max_holding_time"
	ReasonMarginCritical  CloseReason = "margin_critical"
	ReasonManual          CloseReason = "manual"
)

// CloseDecision is the outcome of one exit evaluation that decided to close.
type CloseDecision struct {
	PositionID  string
	Symbol      string
	Reason      CloseReason
	Price       float64
	PriceChange float64 // price-space fraction at decision time
	Detail      string  // human-readable explanation, logged and published
	DecidedAt   time.Time
}

// TradeResult is the journal record of a closed position.
type TradeResult struct {
	PositionID string
	Symbol     string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   float64
	PnL        float64 // quote currency
	PnLPercent float64 // margin-space percent
	Reason     CloseReason
	OpenedAt   time.Time
	ClosedAt   time.Time
}
