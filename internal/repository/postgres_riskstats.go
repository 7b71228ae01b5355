package repository

import (
	"context"
	"fmt"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/postgres"
)

// PGRiskStats persists the per-day risk ledger in PostgreSQL so daily loss
// limits survive restarts.
type PGRiskStats struct {
	pool *postgres.Pool
}

// NewPGRiskStats creates the store.
func NewPGRiskStats(pool *postgres.Pool) *PGRiskStats {
	return &PGRiskStats{pool: pool}
}

// InitSchema creates the ledger table when missing.
func (s *PGRiskStats) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS risk_stats (
			day                TEXT PRIMARY KEY,
			start_balance      DOUBLE PRECISION NOT NULL DEFAULT 0,
			daily_profit       DOUBLE PRECISION NOT NULL DEFAULT 0,
			daily_loss         DOUBLE PRECISION NOT NULL DEFAULT 0,
			consecutive_losses INT NOT NULL DEFAULT 0,
			trades_opened      INT NOT NULL DEFAULT 0,
			trades_closed      INT NOT NULL DEFAULT 0,
			trades_this_hour   INT NOT NULL DEFAULT 0,
			hour_start         TIMESTAMPTZ NOT NULL,
			last_loss_at       TIMESTAMPTZ NOT NULL,
			cooldown_until     TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create risk_stats: %w", err)
	}
	return nil
}

// Load returns the ledger for day, or nil when the day has no record.
func (s *PGRiskStats) Load(ctx context.Context, day string) (*models.RiskStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT day, start_balance, daily_profit, daily_loss, consecutive_losses,
		       trades_opened, trades_closed, trades_this_hour,
		       hour_start, last_loss_at, cooldown_until, updated_at
		FROM risk_stats
		WHERE day = $1
	`, day)

	var st models.RiskStats
	err := row.Scan(&st.Day, &st.StartBalance, &st.DailyProfit, &st.DailyLoss,
		&st.ConsecutiveLosses, &st.TradesOpened, &st.TradesClosed, &st.TradesThisHour,
		&st.HourStart, &st.LastLossAt, &st.CooldownUntil, &st.UpdatedAt)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load risk stats: %w", err)
	}
	return &st, nil
}

// Save upserts the ledger row for its day.
func (s *PGRiskStats) Save(ctx context.Context, st *models.RiskStats) error {
	if st == nil || st.Day == "" {
		return fmt.Errorf("risk stats day is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_stats
			(day, start_balance, daily_profit, daily_loss, consecutive_losses,
			 trades_opened, trades_closed, trades_this_hour,
			 hour_start, last_loss_at, cooldown_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (day) DO UPDATE
		SET start_balance      = EXCLUDED.start_balance,
		    daily_profit       = EXCLUDED.daily_profit,
		    daily_loss         = EXCLUDED.daily_loss,
		    consecutive_losses = EXCLUDED.consecutive_losses,
		    trades_opened      = EXCLUDED.trades_opened,
		    trades_closed      = EXCLUDED.trades_closed,
		    trades_this_hour   = EXCLUDED.trades_this_hour,
		    hour_start         = EXCLUDED.hour_start,
		    last_loss_at       = EXCLUDED.last_loss_at,
		    cooldown_until     = EXCLUDED.cooldown_until,
		    updated_at         = EXCLUDED.updated_at
	`, st.Day, st.StartBalance, st.DailyProfit, st.DailyLoss, st.ConsecutiveLosses,
		st.TradesOpened, st.TradesClosed, st.TradesThisHour,
		st.HourStart, st.LastLossAt, st.CooldownUntil, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save risk stats: %w", err)
	}
	return nil
}

func (s *PGRiskStats) Close() error {
	return nil // pool managed by pkg
}

var _ drepo.RiskStatsStore = (*PGRiskStats)(nil)
