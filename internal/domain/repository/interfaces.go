package repository

import (
	"context"

	"riskpilot/internal/domain/models"
)

// MarketStream is a live exchange feed of normalized ticks.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// CandleHistory serves recent sealed candles, used to bootstrap series before
// live ticks arrive.
type CandleHistory interface {
	RecentCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
}

// AccountSource reports account equity, margin usage and open position risk.
type AccountSource interface {
	Snapshot(ctx context.Context) (*models.AccountSnapshot, error)
}

// OrderExecutor submits closing orders to the exchange.
type OrderExecutor interface {
	ClosePosition(ctx context.Context, p *models.Position, reason models.CloseReason) error
}

// EventPublisher emits engine decisions and alerts to the event stream.
type EventPublisher interface {
	PublishOpen(ctx context.Context, p *models.Position) error
	PublishClose(ctx context.Context, p *models.Position, d *models.CloseDecision) error
	PublishRegime(ctx context.Context, st *models.RegimeState, prev models.RegimeLabel) error
	PublishMargin(ctx context.Context, rep *models.MarginReport) error
	PublishHalt(ctx context.Context, reason string) error
	Close() error
}

// CandleArchive persists sealed candles for offline analysis. Implementations
// may buffer; Flush forces buffered rows out.
type CandleArchive interface {
	ArchiveCandle(ctx context.Context, tf Timeframe, c models.Candle) error
	Flush(ctx context.Context) error
	Close() error
}

// TradeJournal records closed trades and serves recent history.
type TradeJournal interface {
	RecordTrade(ctx context.Context, t *models.TradeResult) error
	RecentTrades(ctx context.Context, limit int) ([]models.TradeResult, error)
	Close() error
}

// RiskStatsStore persists the per-day risk ledger across restarts. Load
// returns nil without error when the day has no record yet.
type RiskStatsStore interface {
	Load(ctx context.Context, day string) (*models.RiskStats, error)
	Save(ctx context.Context, st *models.RiskStats) error
	Close() error
}

// Metrics records operational measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordTick(symbol string)
	RecordThrottled(symbol string)
	RecordCandleSealed(symbol string, tf string)
	RecordLastPrice(symbol string, price float64)
	RecordRegime(symbol string, label string)
	RecordRegimeSwitch(symbol string, from string, to string)
	RecordClose(symbol string, reason string)
	RecordRejection(reason string)
	RecordMarginRatio(ratio float64)
	RecordMarginLevel(severity int)
	RecordError(kind string)
	RecordLatency(operation string, seconds float64)
}
