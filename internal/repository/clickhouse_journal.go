package repository

import (
	"context"
	"database/sql"
	"fmt"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	pkgch "riskpilot/pkg/clickhouse"
)

// TradeSchema returns the idempotent DDL for the trade journal table.
func TradeSchema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS trades (
			position_id String,
			symbol      LowCardinality(String),
			side        LowCardinality(String),
			entry_price Float64,
			exit_price  Float64,
			quantity    Float64,
			leverage    Float64,
			pnl         Float64,
			pnl_percent Float64,
			reason      LowCardinality(String),
			opened_at   DateTime,
			closed_at   DateTime
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(closed_at)
		ORDER BY (closed_at, symbol)
	`}
}

// CHTradeJournal records closed trades in ClickHouse. Closes are rare enough
// that each row is written immediately.
type CHTradeJournal struct {
	db *sql.DB
}

// NewCHTradeJournal creates the journal.
func NewCHTradeJournal(ch *pkgch.Client) *CHTradeJournal {
	return &CHTradeJournal{db: ch.DB()}
}

func (j *CHTradeJournal) RecordTrade(ctx context.Context, t *models.TradeResult) error {
	const q = `
		INSERT INTO trades
			(position_id, symbol, side, entry_price, exit_price, quantity,
			 leverage, pnl, pnl_percent, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, q,
		t.PositionID,
		t.Symbol,
		string(t.Side),
		t.EntryPrice,
		t.ExitPrice,
		t.Quantity,
		t.Leverage,
		t.PnL,
		t.PnLPercent,
		string(t.Reason),
		t.OpenedAt,
		t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (j *CHTradeJournal) RecentTrades(ctx context.Context, limit int) ([]models.TradeResult, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT position_id, symbol, side, entry_price, exit_price, quantity,
		       leverage, pnl, pnl_percent, reason, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeResult, 0, limit)
	for rows.Next() {
		var t models.TradeResult
		var side, reason string
		if err := rows.Scan(&t.PositionID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.Leverage, &t.PnL, &t.PnLPercent, &reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = models.Side(side)
		t.Reason = models.CloseReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *CHTradeJournal) Close() error {
	return nil // connection managed by pkg
}

var _ drepo.TradeJournal = (*CHTradeJournal)(nil)
