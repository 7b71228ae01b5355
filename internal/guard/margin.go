package guard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/service/ratelimit"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
)

// Reported ratios are capped so an account with no margin in use stays
// JSON-encodable.
const maxReportedRatio = 1000

// Closer force-closes every managed position.
type Closer interface {
	CloseAll(ctx context.Context, reason models.CloseReason, detail string) error
}

// GateControl is the risk-gate surface the guard drives: data availability,
// equity updates and the emergency halt.
type GateControl interface {
	SetMarginDataAvailable(ok bool)
	UpdateEquity(equity float64)
	ShouldEmergencyStop(now time.Time) (bool, string)
	Halt(reason string)
	Halted() (bool, string)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, severity, title, message string)
}

// Guard sweeps account margin health on a timer. Each sweep grades the
// margin ratio into a tier, warns about positions near liquidation, and at
// the critical tier closes everything without consulting the exit ladder.
// It also polls the risk gate's emergency-stop check and raises the halt.
type Guard struct {
	cfg       config.GuardConfig
	source    drepo.AccountSource
	closer    Closer
	gate      GateControl
	publisher drepo.EventPublisher
	notifier  Notifier
	limiter   *ratelimit.Limiter
	metrics   drepo.Metrics
	logger    *logger.Logger

	stopCh  chan struct{}
	done    chan struct{}
	started bool

	mu        sync.RWMutex
	last      *models.MarginReport
	lastLevel models.MarginLevel
}

// Option configures the Guard.
type Option func(*Guard)

// WithNotifier routes tier transitions and liquidation warnings to alerts.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) { g.notifier = n }
}

// WithPublisher emits margin transitions and halts to the event stream.
func WithPublisher(p drepo.EventPublisher) Option {
	return func(g *Guard) { g.publisher = p }
}

// New creates a Guard. The source is normally a CachedSource so sweeps ride
// out short exchange outages.
func New(
	cfg config.GuardConfig,
	source drepo.AccountSource,
	closer Closer,
	gate GateControl,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	opts ...Option,
) *Guard {
	g := &Guard{
		cfg:       cfg,
		source:    source,
		closer:    closer,
		gate:      gate,
		limiter:   ratelimit.New(),
		metrics:   metrics,
		logger:    lgr,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		lastLevel: models.MarginSafe,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start launches the sweep loop.
func (g *Guard) Start(ctx context.Context) {
	if g.started {
		return
	}
	g.started = true
	go g.run(ctx)
	g.logger.Info("margin guard started", logger.Duration("interval", g.cfg.Interval()))
}

// Stop halts the loop.
func (g *Guard) Stop(ctx context.Context) error {
	if !g.started {
		return nil
	}
	close(g.stopCh)
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("guard stop: %w", ctx.Err())
	}
}

func (g *Guard) run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep runs one margin assessment.
func (g *Guard) Sweep(ctx context.Context, now time.Time) {
	snap, err := g.source.Snapshot(ctx)
	if err != nil {
		g.gate.SetMarginDataAvailable(false)
		g.metrics.RecordError("margin_sweep")
		g.logger.Warn("margin sweep skipped", logger.Error(err))
		return
	}
	g.gate.SetMarginDataAvailable(true)
	g.gate.UpdateEquity(snap.Equity)

	report := g.assess(snap, now)
	g.metrics.RecordMarginRatio(report.Ratio)
	g.metrics.RecordMarginLevel(report.Level.Severity())

	g.mu.Lock()
	prev := g.lastLevel
	g.lastLevel = report.Level
	g.last = report
	g.mu.Unlock()

	if report.Level != prev {
		g.onTransition(ctx, report, prev)
	}
	g.warnLiquidation(ctx, report)

	if report.Level == models.MarginCritical {
		g.onCritical(ctx, report)
	}

	if stop, reason := g.gate.ShouldEmergencyStop(now); stop {
		if halted, _ := g.gate.Halted(); !halted {
			g.raiseHalt(ctx, reason)
		}
	}
}

// LastReport returns a copy of the most recent sweep result, or nil before
// the first successful sweep.
func (g *Guard) LastReport() *models.MarginReport {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.last == nil {
		return nil
	}
	rep := *g.last
	return &rep
}

// assess grades one snapshot into a report.
func (g *Guard) assess(snap *models.AccountSnapshot, now time.Time) *models.MarginReport {
	ratio := snap.MarginRatio()
	if math.IsInf(ratio, 1) || ratio > maxReportedRatio {
		ratio = maxReportedRatio
	}

	level := models.MarginSafe
	switch {
	case ratio < g.cfg.RatioCritical:
		level = models.MarginCritical
	case ratio < g.cfg.RatioDanger:
		level = models.MarginDanger
	case ratio < g.cfg.RatioWarning:
		level = models.MarginWarning
	}

	var atRisk []models.PositionRisk
	for _, p := range snap.Positions {
		if p.LiquidationDistance() < g.cfg.LiqWarnDistance {
			atRisk = append(atRisk, p)
		}
	}

	return &models.MarginReport{
		Level:      level,
		Ratio:      ratio,
		Equity:     snap.Equity,
		MarginUsed: snap.MarginUsed,
		AtRisk:     atRisk,
		Stale:      snap.Stale,
		CheckedAt:  now,
	}
}

func (g *Guard) onTransition(ctx context.Context, report *models.MarginReport, prev models.MarginLevel) {
	g.logger.Info("margin level changed",
		logger.String("from", string(prev)),
		logger.String("to", string(report.Level)),
		logger.Float64("ratio", report.Ratio),
		logger.Bool("stale", report.Stale))

	if g.publisher != nil {
		if err := g.publisher.PublishMargin(ctx, report); err != nil {
			g.metrics.RecordError("publish_margin")
			g.logger.Warn("publish margin report failed", logger.Error(err))
		}
	}
	if g.notifier != nil && report.Level.Severity() > prev.Severity() {
		severity := "warning"
		if report.Level == models.MarginCritical {
			severity = "critical"
		}
		g.notifier.Notify(ctx, severity, "margin level "+string(report.Level),
			fmt.Sprintf("margin ratio %.2f, equity %.2f, margin used %.2f",
				report.Ratio, report.Equity, report.MarginUsed))
	}
}

// warnLiquidation alerts for positions near their liquidation price,
// rate-limited per symbol.
func (g *Guard) warnLiquidation(ctx context.Context, report *models.MarginReport) {
	if g.notifier == nil {
		return
	}
	refill := 1.0 / g.cfg.NotifyCooldown().Seconds()
	for _, p := range report.AtRisk {
		if !g.limiter.Allow("liq:"+p.Symbol, 1, refill) {
			continue
		}
		g.notifier.Notify(ctx, "warning", "position near liquidation",
			fmt.Sprintf("%s mark %.4f liquidation %.4f (%.2f%% away)",
				p.Symbol, p.MarkPrice, p.LiquidationPrice, p.LiquidationDistance()*100))
	}
}

// onCritical closes everything. A stale snapshot is not trusted that far:
// the close is skipped and the alarm raised instead, since forcing exits on
// old data could liquidate healthy positions.
func (g *Guard) onCritical(ctx context.Context, report *models.MarginReport) {
	if report.Stale {
		g.metrics.RecordError("critical_on_stale")
		g.logger.Error("margin critical on stale data, close suppressed",
			logger.Float64("ratio", report.Ratio),
			logger.Time("checked_at", report.CheckedAt))
		return
	}

	detail := fmt.Sprintf("margin ratio %.2f below critical %.2f", report.Ratio, g.cfg.RatioCritical)
	if err := g.closer.CloseAll(ctx, models.ReasonMarginCritical, detail); err != nil {
		g.metrics.RecordError("critical_close")
		g.logger.Error("critical margin close failed", logger.Error(err))
		return
	}
	g.logger.Error("critical margin, all positions closed",
		logger.Float64("ratio", report.Ratio),
		logger.Float64("equity", report.Equity))
}

func (g *Guard) raiseHalt(ctx context.Context, reason string) {
	g.gate.Halt(reason)
	if g.publisher != nil {
		if err := g.publisher.PublishHalt(ctx, reason); err != nil {
			g.metrics.RecordError("publish_halt")
			g.logger.Warn("publish halt failed", logger.Error(err))
		}
	}
	if g.notifier != nil {
		g.notifier.Notify(ctx, "critical", "trading halted", reason)
	}
}
