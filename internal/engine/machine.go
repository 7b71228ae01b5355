package engine

import (
	"fmt"
	"math"
	"time"

	"riskpilot/internal/domain/models"
	"riskpilot/pkg/config"
)

// Phase is the lifecycle stage of a managed position.
type Phase string

const (
	// PhaseArmed means the trail is still pinned at its initial width.
	PhaseArmed Phase = "armed"
	// PhaseTrailing means profit reached the arming threshold and the trail
	// now widens with the profit tier.
	PhaseTrailing Phase = "trailing"
	// PhaseClosed is terminal.
	PhaseClosed Phase = "closed"
)

// ExitState is the mutable trailing and debounce state of one position.
// It is owned by the manager's evaluation goroutine and never shared.
type ExitState struct {
	Phase        Phase
	HighestPrice float64
	LowestPrice  float64
	CurrentTrail float64
	Breaches     int       // consecutive loss-cut breaches in the current run
	FirstBreach  time.Time // start of the current breach run
}

// Env carries the market context consulted during one evaluation.
type Env struct {
	Regime        models.RegimeLabel
	TrendStrength float64
}

// Machine evaluates the exit ladder for a single position. Rules are checked
// in strict priority order on every price: critical loss-cut, confirmed
// loss-cut, holding-time caps, then the trailing stop with its young-position
// and minimum-profit suppressions. Loss comparisons are inclusive, so a loss
// exactly at the threshold closes.
type Machine struct {
	pos   *models.Position
	cfg   config.EngineConfig
	state ExitState
}

// NewMachine starts managing a position. Both extremes start at the entry
// price and the trail at the regime-independent initial width of the ranging
// set; the first evaluation rebases it on the live regime.
func NewMachine(p *models.Position, cfg config.EngineConfig) *Machine {
	if p.Leverage <= 0 {
		p.Leverage = cfg.Leverage
	}
	return &Machine{
		pos: p,
		cfg: cfg,
		state: ExitState{
			Phase:        PhaseArmed,
			HighestPrice: p.EntryPrice,
			LowestPrice:  p.EntryPrice,
			CurrentTrail: cfg.Ranging.InitialTrail,
		},
	}
}

// Position returns the managed position.
func (m *Machine) Position() *models.Position { return m.pos }

// State returns a copy of the current exit state.
func (m *Machine) State() ExitState { return m.state }

// Closed reports whether the machine reached its terminal phase.
func (m *Machine) Closed() bool { return m.state.Phase == PhaseClosed }

// Evaluate runs the exit ladder at the given price. A nil decision means the
// position stays open. A malformed or zero price falls back to the entry
// price; if the entry price is also unusable the whole cycle is skipped so a
// bad feed can never force a close.
func (m *Machine) Evaluate(now time.Time, price float64, env Env) *models.CloseDecision {
	if m.state.Phase == PhaseClosed {
		return nil
	}
	if !validPrice(price) {
		price = m.pos.EntryPrice
		if !validPrice(price) {
			return nil
		}
	}

	m.observe(price)

	params := m.cfg.ParamsFor(string(env.Regime))
	chg := m.pos.PriceChange(price)
	age := m.pos.Age(now)

	// Loss-cut thresholds are configured in margin space and compared in
	// price space, so leverage divides them.
	cut := params.LossCutPercent / 100 / m.pos.SafeLeverage()

	if chg <= -m.cfg.CriticalMultiplier*cut && age >= m.cfg.MinHoldFloor() {
		return m.close(now, price, chg, models.ReasonCriticalLossCut,
			fmt.Sprintf("loss %.2f%% reached %.1fx cut threshold %.2f%%",
				-chg*100, m.cfg.CriticalMultiplier, cut*100))
	}

	if chg <= -cut {
		if m.state.Breaches == 0 || now.Sub(m.state.FirstBreach) > m.cfg.ConfirmationWindow() {
			m.state.Breaches = 0
			m.state.FirstBreach = now
		}
		m.state.Breaches++
		if m.state.Breaches >= m.cfg.ConfirmationRequired && age >= m.cfg.MinHoldFloor() {
			return m.close(now, price, chg, models.ReasonLossCut,
				fmt.Sprintf("loss %.2f%% breached cut %.2f%% on %d consecutive reads",
					-chg*100, cut*100, m.state.Breaches))
		}
	} else {
		m.state.Breaches = 0
	}

	if age >= m.cfg.MaxHolding() {
		return m.close(now, price, chg, models.ReasonMaxHoldingTime,
			fmt.Sprintf("held %s, cap %s", age.Round(time.Minute), m.cfg.MaxHolding()))
	}

	if age >= params.Timeout() {
		if chg > 0 && chg < params.MinProfitToClose {
			return m.close(now, price, chg, models.ReasonTimeout,
				fmt.Sprintf("aged out at %.2f%% profit below floor %.2f%%",
					chg*100, params.MinProfitToClose*100))
		}
		if chg <= -params.TimeoutLossThreshold {
			return m.close(now, price, chg, models.ReasonTimeout,
				fmt.Sprintf("aged out at %.2f%% loss past %.2f%%",
					-chg*100, params.TimeoutLossThreshold*100))
		}
	}

	peak := m.pos.PriceChange(m.extremum())
	if m.state.Phase == PhaseArmed && peak >= m.cfg.ArmProfit {
		m.state.Phase = PhaseTrailing
	}
	m.state.CurrentTrail = trailWidth(m.cfg, params, peak)

	trail := effectiveTrail(m.cfg, m.state.CurrentTrail, chg, env)
	stop := stopPrice(m.pos.Side, m.extremum(), trail)
	if !crossed(m.pos.Side, price, stop) {
		return nil
	}

	// Young positions only close on the trail once the loss is deep enough
	// to matter relative to trading fees.
	if age < params.MinHolding() && chg > -m.feeGuard() {
		return nil
	}
	if chg > 0 && chg < params.MinProfitToClose {
		return nil
	}

	reason := models.ReasonTrailHitLoss
	if chg > 0 {
		reason = models.ReasonTrailHitProfit
	}
	return m.close(now, price, chg, reason,
		fmt.Sprintf("price %.4f crossed stop %.4f (trail %.2f%%)", price, stop, trail*100))
}

// ForceClose terminates the machine outside the ladder, keeping the same
// decision bookkeeping. Margin-critical and manual closes use this path.
func (m *Machine) ForceClose(now time.Time, price float64, reason models.CloseReason, detail string) *models.CloseDecision {
	if m.state.Phase == PhaseClosed {
		return nil
	}
	if !validPrice(price) {
		price = m.pos.EntryPrice
	}
	return m.close(now, price, m.pos.PriceChange(price), reason, detail)
}

func (m *Machine) close(now time.Time, price, chg float64, reason models.CloseReason, detail string) *models.CloseDecision {
	m.state.Phase = PhaseClosed
	return &models.CloseDecision{
		PositionID:  m.pos.ID,
		Symbol:      m.pos.Symbol,
		Reason:      reason,
		Price:       price,
		PriceChange: chg,
		Detail:      detail,
		DecidedAt:   now,
	}
}

// reopen reverts a close decision whose order submission failed, so the next
// cycle evaluates again instead of abandoning the position.
func (m *Machine) reopen() {
	if m.state.Phase != PhaseClosed {
		return
	}
	m.state.Phase = PhaseArmed
	m.state.Breaches = 0
	if m.pos.PriceChange(m.extremum()) >= m.cfg.ArmProfit {
		m.state.Phase = PhaseTrailing
	}
}

func (m *Machine) observe(price float64) {
	if price > m.state.HighestPrice {
		m.state.HighestPrice = price
	}
	if price < m.state.LowestPrice {
		m.state.LowestPrice = price
	}
}

// extremum returns the best price reached for the position's direction.
func (m *Machine) extremum() float64 {
	if m.pos.Side == models.SideLong {
		return m.state.HighestPrice
	}
	return m.state.LowestPrice
}

// feeGuard is the loss depth below which the young-position protection still
// applies, a multiple of the per-side taker fee.
func (m *Machine) feeGuard() float64 {
	return m.cfg.FeeGuardMultiplier * m.cfg.TakerFeeRate
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
