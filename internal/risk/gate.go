package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/util"
)

// Stable rejection reasons. Amounts and counters go into the log line, not
// the reason, so the strings stay usable as metric labels.
const (
	ReasonHalted          = "trading halted"
	ReasonMarginData      = "margin data unavailable"
	ReasonMaxPositions    = "max open positions reached"
	ReasonDailyLoss       = "daily loss limit reached"
	ReasonProfitTarget    = "daily profit target reached"
	ReasonLossStreak      = "too many consecutive losses"
	ReasonCooldown        = "cooldown active"
	ReasonHourlyCap       = "hourly trade cap reached"
	ReasonEmergencyStreak = "consecutive losses at emergency level"
	ReasonEmergencyLoss   = "daily loss at emergency level"
)

// LabelSource serves the current regime label for a symbol. The hourly trade
// cap scales with it.
type LabelSource interface {
	Label(symbol string) models.RegimeLabel
}

// Gate admits new trades against the day's ledger. Checks run in a fixed
// order and the first failure wins. Counters roll over on hour and UTC-day
// boundaries; the ledger is persisted best-effort so a restart cannot reset
// daily limits.
type Gate struct {
	cfg     config.RiskConfig
	store   drepo.RiskStatsStore
	labels  LabelSource
	metrics drepo.Metrics
	logger  *logger.Logger

	mu         sync.Mutex
	stats      models.RiskStats
	lastTrade  map[string]time.Time
	lastEquity float64
	marginOK   bool
	haltReason string
}

// Option configures the Gate.
type Option func(*Gate)

// WithStore persists the day ledger across restarts.
func WithStore(s drepo.RiskStatsStore) Option {
	return func(g *Gate) { g.store = s }
}

// WithLabels scales the hourly cap by the symbol's regime.
func WithLabels(ls LabelSource) Option {
	return func(g *Gate) { g.labels = ls }
}

// New creates a Gate with a fresh ledger for today. Call Restore before
// first use to pick up a persisted day.
func New(cfg config.RiskConfig, metrics drepo.Metrics, lgr *logger.Logger, opts ...Option) *Gate {
	g := &Gate{
		cfg:       cfg,
		metrics:   metrics,
		logger:    lgr,
		lastTrade: make(map[string]time.Time),
		marginOK:  true,
	}
	g.stats = freshDay(time.Now().UTC())
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func freshDay(now time.Time) models.RiskStats {
	return models.RiskStats{
		Day:       util.DayKey(now),
		HourStart: now.UTC().Truncate(time.Hour),
		UpdatedAt: now.UTC(),
	}
}

// Restore loads today's persisted ledger, if any.
func (g *Gate) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	day := util.DayKey(time.Now())
	st, err := g.store.Load(ctx, day)
	if err != nil {
		return fmt.Errorf("restore risk stats: %w", err)
	}
	if st == nil {
		return nil
	}

	g.mu.Lock()
	g.stats = *st
	g.mu.Unlock()
	g.logger.Info("risk ledger restored",
		logger.String("day", st.Day),
		logger.Float64("daily_loss", st.DailyLoss),
		logger.Int("consecutive_losses", st.ConsecutiveLosses))
	return nil
}

// CanTrade runs the admission checks for one prospective trade. The returned
// reason is empty when allowed.
func (g *Gate) CanTrade(symbol string, openPositions int, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(now)

	if g.haltReason != "" {
		return false, ReasonHalted
	}
	if !g.marginOK {
		return false, ReasonMarginData
	}
	if openPositions >= g.cfg.MaxOpenPositions {
		g.logger.Warn("trade admission denied",
			logger.String("symbol", symbol),
			logger.String("check", ReasonMaxPositions),
			logger.Int("open", openPositions))
		return false, ReasonMaxPositions
	}

	balance := g.startBalance()
	lossLimit := balance * g.cfg.DailyLossPercent / 100
	if g.stats.DailyLoss >= lossLimit {
		g.logger.Warn("trade admission denied",
			logger.String("symbol", symbol),
			logger.String("check", ReasonDailyLoss),
			logger.Float64("daily_loss", g.stats.DailyLoss),
			logger.Float64("limit", lossLimit))
		return false, ReasonDailyLoss
	}

	if g.cfg.DailyProfitTarget > 0 {
		target := balance * g.cfg.DailyProfitTarget / 100
		if g.stats.NetPnL() >= target {
			g.logger.Info("trade admission denied, profit locked in",
				logger.String("symbol", symbol),
				logger.Float64("net_pnl", g.stats.NetPnL()),
				logger.Float64("target", target))
			return false, ReasonProfitTarget
		}
	}

	if g.stats.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return false, ReasonLossStreak
	}

	if g.stats.ConsecutiveLosses >= 2 && now.Before(g.stats.CooldownUntil) {
		g.logger.Warn("trade admission denied",
			logger.String("symbol", symbol),
			logger.String("check", ReasonCooldown),
			logger.Duration("remaining", g.stats.CooldownUntil.Sub(now)))
		return false, ReasonCooldown
	}

	if g.stats.TradesThisHour >= g.hourlyCap(symbol) {
		return false, ReasonHourlyCap
	}

	return true, ""
}

// RecordTradeOpened stamps the symbol's last trade and counts it against
// the hourly cap.
func (g *Gate) RecordTradeOpened(symbol string, now time.Time) {
	g.mu.Lock()
	g.rollover(now)
	g.stats.TradesOpened++
	g.stats.TradesThisHour++
	g.stats.UpdatedAt = now
	g.lastTrade[symbol] = now
	snapshot := g.stats
	g.mu.Unlock()

	go g.persist(snapshot)
}

// RecordTradeClosed folds a realized pnl into the ledger. Losses extend the
// streak and, from the second consecutive loss on, arm a cooldown that grows
// with the streak. Any non-losing trade clears both.
func (g *Gate) RecordTradeClosed(pnl float64, now time.Time) {
	g.mu.Lock()
	g.rollover(now)
	g.stats.TradesClosed++
	g.stats.UpdatedAt = now

	if pnl < 0 {
		g.stats.DailyLoss += -pnl
		g.stats.ConsecutiveLosses++
		g.stats.LastLossAt = now
		if g.stats.ConsecutiveLosses >= 2 {
			g.stats.CooldownUntil = now.Add(g.cooldownFor(g.stats.ConsecutiveLosses))
			g.logger.Warn("loss streak cooldown armed",
				logger.Int("consecutive", g.stats.ConsecutiveLosses),
				logger.Time("until", g.stats.CooldownUntil))
		}
	} else {
		g.stats.DailyProfit += pnl
		g.stats.ConsecutiveLosses = 0
		g.stats.CooldownUntil = time.Time{}
	}
	snapshot := g.stats
	g.mu.Unlock()

	go g.persist(snapshot)
}

// ShouldEmergencyStop re-checks the hard limits that warrant a full trading
// halt rather than a single rejection.
func (g *Gate) ShouldEmergencyStop(now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(now)

	if g.stats.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return true, ReasonEmergencyStreak
	}
	limit := g.startBalance() * g.cfg.DailyLossPercent / 100 * g.cfg.EmergencyLossMult
	if g.stats.DailyLoss >= limit {
		return true, ReasonEmergencyLoss
	}
	return false, ""
}

// Halt denies all admissions until the next UTC day.
func (g *Gate) Halt(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.haltReason != "" {
		return
	}
	g.haltReason = reason
	g.logger.Error("trading halted", logger.String("reason", reason))
}

// Halted reports the active halt, if any.
func (g *Gate) Halted() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltReason != "", g.haltReason
}

// SetMarginDataAvailable flips the refusal flag raised when no margin data
// source can be reached.
func (g *Gate) SetMarginDataAvailable(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.marginOK == ok {
		return
	}
	g.marginOK = ok
	if ok {
		g.logger.Info("margin data available, admissions resume")
	} else {
		g.logger.Warn("margin data unavailable, refusing new trades")
	}
}

// UpdateEquity feeds the latest account equity. The first reading of a day
// becomes the start-of-day balance that loss limits are computed from.
func (g *Gate) UpdateEquity(equity float64) {
	if equity <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEquity = equity
	if g.stats.StartBalance == 0 {
		g.stats.StartBalance = equity
	}
}

// Stats returns a copy of the day ledger.
func (g *Gate) Stats() models.RiskStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// rollover resets hourly and daily counters at their boundaries. Callers
// hold the mutex.
func (g *Gate) rollover(now time.Time) {
	now = now.UTC()

	day := util.DayKey(now)
	if g.stats.Day != day {
		old := g.stats
		go g.persist(old)
		g.stats = freshDay(now)
		g.stats.StartBalance = g.lastEquity
		g.haltReason = ""
		g.logger.Info("risk ledger rolled to new day",
			logger.String("day", day),
			logger.Float64("previous_net", old.NetPnL()))
		return
	}

	hour := now.Truncate(time.Hour)
	if hour.After(g.stats.HourStart) {
		g.stats.TradesThisHour = 0
		g.stats.HourStart = hour
	}
}

func (g *Gate) startBalance() float64 {
	if g.stats.StartBalance > 0 {
		return g.stats.StartBalance
	}
	return g.cfg.FallbackBalance
}

func (g *Gate) hourlyCap(symbol string) int {
	label := ""
	if g.labels != nil {
		label = string(g.labels.Label(symbol))
	}
	limit := int(float64(g.cfg.MaxTradesPerHour) * g.cfg.HourlyFactorFor(label))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// cooldownFor scales the base cooldown with the streak length, capped.
func (g *Gate) cooldownFor(consecutive int) time.Duration {
	d := g.cfg.Cooldown() * time.Duration(consecutive-1)
	if lim := g.cfg.MaxCooldown(); d > lim {
		d = lim
	}
	return d
}

func (g *Gate) persist(st models.RiskStats) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.Save(ctx, &st); err != nil {
		g.metrics.RecordError("risk_persist")
		g.logger.Warn("risk stats save failed", logger.Error(err))
	}
}
