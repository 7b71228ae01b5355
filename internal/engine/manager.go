package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
)

var (
	// ErrPositionExists rejects a second open for a symbol already managed.
	ErrPositionExists = errors.New("position already open for symbol")
	// ErrNoPosition rejects operations on symbols with nothing open.
	ErrNoPosition = errors.New("no open position for symbol")
	// ErrRejected marks a trade refused by the risk gate. The wrapped
	// message carries the gate's reason.
	ErrRejected = errors.New("trade rejected")
	// ErrStopped rejects operations after shutdown began.
	ErrStopped = errors.New("engine stopped")
)

// RegimeSource serves the current regime state for a symbol.
type RegimeSource interface {
	Current(symbol string) models.RegimeState
}

// StrengthSource serves the live tick-over-tick directional strength for a
// symbol. Fresher than the classifier's candle-window reading, so the trail
// leniency reacts within the current bar.
type StrengthSource interface {
	Strength(symbol string) float64
}

// Admission decides whether a new trade may open and tracks outcomes.
type Admission interface {
	CanTrade(symbol string, openPositions int, now time.Time) (bool, string)
	RecordTradeOpened(symbol string, now time.Time)
	RecordTradeClosed(pnl float64, now time.Time)
}

type priceUpdate struct {
	symbol string
	price  float64
	at     time.Time
}

// Manager owns every exit machine and runs the evaluation loop. All position
// mutation happens on its single goroutine: price updates and API operations
// are funneled through channels, and a sweep ticker re-evaluates idle
// positions so time-based rules fire without fresh ticks. One failing
// symbol's evaluation never blocks the others.
type Manager struct {
	cfg       config.EngineConfig
	book      *Book
	regimes   RegimeSource
	strength  StrengthSource
	admission Admission
	executor  drepo.OrderExecutor
	publisher drepo.EventPublisher
	journal   drepo.TradeJournal
	metrics   drepo.Metrics
	logger    *logger.Logger

	updates   chan priceUpdate
	ops       chan func(ctx context.Context)
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	lastPrice map[string]float64 // owned by the run goroutine
}

// Option configures the Manager.
type Option func(*Manager)

// WithAdmission installs the risk gate consulted before opens.
func WithAdmission(a Admission) Option {
	return func(m *Manager) { m.admission = a }
}

// WithStrength installs the live strength source. Without it evaluations
// fall back to the classifier's windowed reading.
func WithStrength(s StrengthSource) Option {
	return func(m *Manager) { m.strength = s }
}

// WithJournal records closed trades.
func WithJournal(j drepo.TradeJournal) Option {
	return func(m *Manager) { m.journal = j }
}

// NewManager wires the evaluation loop. The executor submits closing orders;
// the publisher emits open, close and halt events.
func NewManager(
	cfg config.EngineConfig,
	regimes RegimeSource,
	executor drepo.OrderExecutor,
	publisher drepo.EventPublisher,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	opts ...Option,
) *Manager {
	buf := cfg.UpdateBuffer
	if buf <= 0 {
		buf = 1024
	}
	m := &Manager{
		cfg:       cfg,
		book:      NewBook(),
		regimes:   regimes,
		executor:  executor,
		publisher: publisher,
		metrics:   metrics,
		logger:    lgr,
		updates:   make(chan priceUpdate, buf),
		ops:       make(chan func(ctx context.Context)),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		lastPrice: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Book exposes the open-position index for the tick pipeline and API.
func (m *Manager) Book() *Book { return m.book }

// Start launches the evaluation goroutine.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.run(ctx)
	m.logger.Info("exit engine started",
		logger.Duration("sweep_interval", m.cfg.SweepInterval()),
		logger.Float64("leverage", m.cfg.Leverage))
}

// Stop signals the loop and waits for it to drain, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started {
		return nil
	}
	close(m.stopCh)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// OnPrice hands a price to the evaluation loop without blocking the caller.
// Updates beyond the buffer are dropped; the sweep covers the gap.
func (m *Manager) OnPrice(symbol string, price float64, at time.Time) {
	select {
	case m.updates <- priceUpdate{symbol: symbol, price: price, at: at}:
	default:
		m.metrics.RecordError("engine_backlog")
	}
}

// Open admits and registers a new position. The risk gate is consulted on
// the evaluation goroutine so admission and registration are atomic.
func (m *Manager) Open(ctx context.Context, p *models.Position) error {
	errCh := make(chan error, 1)
	op := func(opCtx context.Context) { errCh <- m.open(opCtx, p) }
	if err := m.submit(ctx, op); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close force-closes the symbol's position with the given reason, keeping
// journal and risk bookkeeping. The exit ladder is not consulted.
func (m *Manager) Close(ctx context.Context, symbol string, reason models.CloseReason, detail string) error {
	if detail == "" {
		detail = "closed on request"
	}
	errCh := make(chan error, 1)
	op := func(opCtx context.Context) { errCh <- m.forceClose(opCtx, symbol, reason, detail) }
	if err := m.submit(ctx, op); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PositionStatus is a point-in-time view of one managed position.
type PositionStatus struct {
	Position  models.Position
	State     ExitState
	LastPrice float64
}

// Positions reports every open position with its exit state. The snapshot is
// taken on the evaluation goroutine so state and price are consistent.
func (m *Manager) Positions(ctx context.Context) ([]PositionStatus, error) {
	ch := make(chan []PositionStatus, 1)
	op := func(opCtx context.Context) {
		out := make([]PositionStatus, 0, m.book.Count())
		for _, sym := range m.book.Symbols() {
			mc := m.book.Get(sym)
			if mc == nil {
				continue
			}
			out = append(out, PositionStatus{
				Position:  *mc.Position(),
				State:     mc.State(),
				LastPrice: m.lastPrice[sym],
			})
		}
		ch <- out
	}
	if err := m.submit(ctx, op); err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseAll force-closes every open position. Used by the margin guard at the
// critical tier, where no ladder rule may delay the close.
func (m *Manager) CloseAll(ctx context.Context, reason models.CloseReason, detail string) error {
	errCh := make(chan error, 1)
	op := func(opCtx context.Context) {
		var firstErr error
		for _, sym := range m.book.Symbols() {
			if err := m.forceClose(opCtx, sym, reason, detail); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		errCh <- firstErr
	}
	if err := m.submit(ctx, op); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) submit(ctx context.Context, op func(ctx context.Context)) error {
	select {
	case m.ops <- op:
		return nil
	case <-m.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case u := <-m.updates:
			m.lastPrice[u.symbol] = u.price
			m.evaluate(ctx, u.symbol, u.price)
			if !u.at.IsZero() {
				m.metrics.RecordLatency("tick_to_eval", time.Since(u.at).Seconds())
			}
		case <-ticker.C:
			for _, sym := range m.book.Symbols() {
				m.evaluate(ctx, sym, m.lastPrice[sym])
			}
		case op := <-m.ops:
			op(ctx)
		}
	}
}

// evaluate runs one ladder pass for the symbol. A zero price falls through
// to the machine's entry-price fallback.
func (m *Manager) evaluate(ctx context.Context, symbol string, price float64) {
	machine := m.book.Get(symbol)
	if machine == nil {
		return
	}

	st := m.regimes.Current(symbol)
	trend := st.Indicators.TrendStrength
	if m.strength != nil {
		trend = m.strength.Strength(symbol)
	}
	decision := machine.Evaluate(time.Now().UTC(), price, Env{
		Regime:        st.Label,
		TrendStrength: trend,
	})
	if decision == nil {
		return
	}
	m.settle(ctx, machine, decision)
}

func (m *Manager) open(ctx context.Context, p *models.Position) error {
	if p == nil {
		return fmt.Errorf("position is nil")
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if !p.Side.IsValid() {
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive, got %v", p.EntryPrice)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", p.Quantity)
	}

	now := time.Now().UTC()
	if m.admission != nil {
		if ok, reason := m.admission.CanTrade(p.Symbol, m.book.Count(), now); !ok {
			m.metrics.RecordRejection(reason)
			m.logger.Warn("trade rejected",
				logger.String("symbol", p.Symbol),
				logger.String("reason", reason))
			return fmt.Errorf("%w: %s", ErrRejected, reason)
		}
	}

	if p.ID == "" {
		p.ID = fmt.Sprintf("%s-%d", strings.ToLower(p.Symbol), now.UnixNano())
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}

	if err := m.book.Add(NewMachine(p, m.cfg)); err != nil {
		return err
	}

	if m.admission != nil {
		m.admission.RecordTradeOpened(p.Symbol, now)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishOpen(ctx, p); err != nil {
			m.metrics.RecordError("publish_open")
			m.logger.Warn("publish open failed", logger.Error(err))
		}
	}
	m.logger.Info("position opened",
		logger.String("symbol", p.Symbol),
		logger.String("side", string(p.Side)),
		logger.Float64("entry", p.EntryPrice),
		logger.Float64("qty", p.Quantity),
		logger.Float64("leverage", p.Leverage))
	return nil
}

func (m *Manager) forceClose(ctx context.Context, symbol string, reason models.CloseReason, detail string) error {
	machine := m.book.Get(symbol)
	if machine == nil {
		return ErrNoPosition
	}
	price := m.lastPrice[symbol]
	decision := machine.ForceClose(time.Now().UTC(), price, reason, detail)
	if decision == nil {
		return nil
	}
	return m.settle(ctx, machine, decision)
}

// settle submits the closing order and, on success, retires the position.
// If the order fails the machine reopens so the next cycle retries instead
// of abandoning a live position.
func (m *Manager) settle(ctx context.Context, machine *Machine, d *models.CloseDecision) error {
	p := machine.Position()

	if err := m.executor.ClosePosition(ctx, p, d.Reason); err != nil {
		machine.reopen()
		m.metrics.RecordError("close_order")
		m.logger.Error("close order failed, keeping position under management",
			logger.String("symbol", p.Symbol),
			logger.String("reason", string(d.Reason)),
			logger.Error(err))
		return fmt.Errorf("close %s: %w", p.Symbol, err)
	}

	m.book.Remove(p.Symbol)

	result := &models.TradeResult{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  d.Price,
		Quantity:   p.Quantity,
		Leverage:   p.Leverage,
		PnL:        p.QuotePnL(d.Price),
		PnLPercent: p.MarginChange(d.Price) * 100,
		Reason:     d.Reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   d.DecidedAt,
	}

	if m.admission != nil {
		m.admission.RecordTradeClosed(result.PnL, d.DecidedAt)
	}
	if m.journal != nil {
		if err := m.journal.RecordTrade(ctx, result); err != nil {
			m.metrics.RecordError("journal")
			m.logger.Warn("trade journal failed", logger.Error(err))
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishClose(ctx, p, d); err != nil {
			m.metrics.RecordError("publish_close")
			m.logger.Warn("publish close failed", logger.Error(err))
		}
	}

	m.metrics.RecordClose(p.Symbol, string(d.Reason))
	m.logger.Info("position closed",
		logger.String("symbol", p.Symbol),
		logger.String("reason", string(d.Reason)),
		logger.Float64("exit", d.Price),
		logger.Percent("price_change", d.PriceChange),
		logger.Float64("pnl", result.PnL),
		logger.String("detail", d.Detail))
	return nil
}
