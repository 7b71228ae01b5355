package engine

import (
	"testing"
	"time"

	"riskpilot/internal/domain/models"
	"riskpilot/pkg/config"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCfg() config.EngineConfig {
	return config.EngineConfig{
		Leverage:              3,
		TakerFeeRate:          0.0005,
		SweepIntervalSec:      1,
		UpdateBuffer:          64,
		MinHoldFloorSec:       45,
		CriticalMultiplier:    2.0,
		ConfirmationRequired:  3,
		ConfirmationWindowSec: 30,
		MaxHoldingMinutes:     1440,
		FeeGuardMultiplier:    2.5,
		ArmProfit:             0.006,
		TrendWidenMult:        1.5,
		TrendStrengthWiden:    40.0,
		HighProfitThreshold:   0.05,
		HighProfitCompress:    1.15,
		TierLow:               config.TrailTier{Profit: 0.01, Mult: 1.2},
		TierMedium:            config.TrailTier{Profit: 0.02, Mult: 1.6},
		TierHigh:              config.TrailTier{Profit: 0.04, Mult: 2.0},
		Trending: config.ExitParams{
			LossCutPercent: 2.4, TimeoutMinutes: 90, TimeoutLossThreshold: 0.006,
			MinProfitToClose: 0.004, MinHoldingMinutes: 12, InitialTrail: 0.009, MaxTrail: 0.03,
		},
		Ranging: config.ExitParams{
			LossCutPercent: 1.8, TimeoutMinutes: 60, TimeoutLossThreshold: 0.004,
			MinProfitToClose: 0.003, MinHoldingMinutes: 10, InitialTrail: 0.007, MaxTrail: 0.02,
		},
		Choppy: config.ExitParams{
			LossCutPercent: 1.2, TimeoutMinutes: 30, TimeoutLossThreshold: 0.003,
			MinProfitToClose: 0.002, MinHoldingMinutes: 5, InitialTrail: 0.005, MaxTrail: 0.012,
		},
	}
}

func openLong() *models.Position {
	return &models.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 50000,
		Quantity:   0.1,
		Leverage:   3,
		OpenedAt:   baseTime,
	}
}

func openShort() *models.Position {
	p := openLong()
	p.Side = models.SideShort
	return p
}

var ranging = Env{Regime: models.RegimeRanging}

// 1.8% margin-space cut at 3x leverage puts the price-space threshold at
// 0.6%, so 49700 from a 50000 entry sits exactly on it and must close once
// confirmed.
func TestLossCutAtExactThreshold(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	now := baseTime.Add(time.Minute)

	var d *models.CloseDecision
	for i := 0; i < 3; i++ {
		d = m.Evaluate(now.Add(time.Duration(i)*time.Second), 49700, ranging)
		if i < 2 && d != nil {
			t.Fatalf("breach %d: closed early with reason %s", i+1, d.Reason)
		}
	}
	if d == nil {
		t.Fatal("expected close after third confirmed breach")
	}
	if d.Reason != models.ReasonLossCut {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonLossCut)
	}
	if d.Price != 49700 {
		t.Fatalf("decision price = %v, want 49700", d.Price)
	}
	if !m.Closed() {
		t.Fatal("machine should be terminal after close")
	}
}

func TestLossCutRecoveryResetsConfirmation(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	now := baseTime.Add(time.Minute)

	if d := m.Evaluate(now, 49700, ranging); d != nil {
		t.Fatalf("unexpected close: %s", d.Reason)
	}
	if d := m.Evaluate(now.Add(time.Second), 49700, ranging); d != nil {
		t.Fatalf("unexpected close: %s", d.Reason)
	}
	// price recovers above the threshold, breach run resets
	if d := m.Evaluate(now.Add(2*time.Second), 49900, ranging); d != nil {
		t.Fatalf("unexpected close on recovery: %s", d.Reason)
	}
	if d := m.Evaluate(now.Add(3*time.Second), 49700, ranging); d != nil {
		t.Fatalf("close after 1 of 3 breaches: %s", d.Reason)
	}
	if d := m.Evaluate(now.Add(4*time.Second), 49700, ranging); d != nil {
		t.Fatalf("close after 2 of 3 breaches: %s", d.Reason)
	}
	if m.State().Breaches != 2 {
		t.Fatalf("breaches = %d, want 2", m.State().Breaches)
	}
}

func TestLossCutWindowExpiryRestartsRun(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	t0 := baseTime.Add(time.Minute)

	m.Evaluate(t0, 49700, ranging)
	m.Evaluate(t0.Add(15*time.Second), 49700, ranging)
	// third breach lands outside the 30s confirmation window, so the run
	// restarts instead of closing
	if d := m.Evaluate(t0.Add(40*time.Second), 49700, ranging); d != nil {
		t.Fatalf("unexpected close on expired run: %s", d.Reason)
	}
	if got := m.State().Breaches; got != 1 {
		t.Fatalf("breaches after expiry = %d, want 1", got)
	}

	m.Evaluate(t0.Add(41*time.Second), 49700, ranging)
	d := m.Evaluate(t0.Add(42*time.Second), 49700, ranging)
	if d == nil || d.Reason != models.ReasonLossCut {
		t.Fatalf("expected loss_cut after fresh confirmed run, got %v", d)
	}
}

// At twice the normalized cut (1.2% price-space here) the close is immediate
// once the hold floor has passed; no confirmation run is needed.
func TestCriticalLossCutBypassesConfirmation(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	d := m.Evaluate(baseTime.Add(time.Minute), 49400, ranging)
	if d == nil {
		t.Fatal("expected immediate close")
	}
	if d.Reason != models.ReasonCriticalLossCut {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonCriticalLossCut)
	}
}

// Before the hold floor the critical rule stays quiet, but a loss that deep
// has long crossed the initial trail, which is not suppressed for losses
// beyond the fee guard. The position still closes, just with a trail reason.
func TestDeepLossBeforeHoldFloorClosesOnTrail(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	d := m.Evaluate(baseTime.Add(10*time.Second), 49400, ranging)
	if d == nil {
		t.Fatal("expected close")
	}
	if d.Reason != models.ReasonTrailHitLoss {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonTrailHitLoss)
	}
}

func TestTimeout(t *testing.T) {
	t.Run("small profit closes", func(t *testing.T) {
		m := NewMachine(openLong(), testCfg())
		d := m.Evaluate(baseTime.Add(61*time.Minute), 50100, ranging)
		if d == nil || d.Reason != models.ReasonTimeout {
			t.Fatalf("expected timeout at 0.2%% profit, got %v", d)
		}
	})
	t.Run("loss past threshold closes", func(t *testing.T) {
		m := NewMachine(openLong(), testCfg())
		d := m.Evaluate(baseTime.Add(61*time.Minute), 49790, ranging)
		if d == nil || d.Reason != models.ReasonTimeout {
			t.Fatalf("expected timeout at 0.42%% loss, got %v", d)
		}
	})
	t.Run("profit above floor keeps running", func(t *testing.T) {
		m := NewMachine(openLong(), testCfg())
		if d := m.Evaluate(baseTime.Add(61*time.Minute), 50250, ranging); d != nil {
			t.Fatalf("unexpected close: %s", d.Reason)
		}
	})
	t.Run("flat position keeps running", func(t *testing.T) {
		m := NewMachine(openLong(), testCfg())
		if d := m.Evaluate(baseTime.Add(61*time.Minute), 50000, ranging); d != nil {
			t.Fatalf("unexpected close: %s", d.Reason)
		}
	})
}

func TestMaxHoldingClosesRegardlessOfProfit(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	// 0.4% profit clears the timeout floor, so only the hard cap applies
	d := m.Evaluate(baseTime.Add(1441*time.Minute), 50200, ranging)
	if d == nil {
		t.Fatal("expected close at holding cap")
	}
	if d.Reason != models.ReasonMaxHoldingTime {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonMaxHoldingTime)
	}
}

func TestTrailPinnedBeforeArming(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	// 0.4% peak profit is below the 0.6% arming threshold
	if d := m.Evaluate(baseTime.Add(time.Minute), 50200, ranging); d != nil {
		t.Fatalf("unexpected close: %s", d.Reason)
	}
	st := m.State()
	if st.Phase != PhaseArmed {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseArmed)
	}
	if st.CurrentTrail != 0.007 {
		t.Fatalf("trail = %v, want pinned initial 0.007", st.CurrentTrail)
	}
}

// 2% profit with min_profit_to_close at 0.3%: a crossed trail must close
// with the profit reason.
func TestTrailHitProfit(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	now := baseTime.Add(20 * time.Minute)

	if d := m.Evaluate(now, 52000, ranging); d != nil {
		t.Fatalf("unexpected close at peak: %s", d.Reason)
	}
	st := m.State()
	if st.Phase != PhaseTrailing {
		t.Fatalf("phase = %s, want %s after arming", st.Phase, PhaseTrailing)
	}
	// 4% peak sits in the high tier: 0.007 * 2.0
	if st.CurrentTrail != 0.014 {
		t.Fatalf("trail = %v, want 0.014", st.CurrentTrail)
	}

	// stop = 52000 * (1 - 0.014) = 51272, so 51000 crosses at +2%
	d := m.Evaluate(now.Add(time.Second), 51000, ranging)
	if d == nil {
		t.Fatal("expected trail close")
	}
	if d.Reason != models.ReasonTrailHitProfit {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonTrailHitProfit)
	}
	if d.PriceChange < 0.019 || d.PriceChange > 0.021 {
		t.Fatalf("price change = %v, want ~0.02", d.PriceChange)
	}
}

func TestTrendStrengthWidensTrail(t *testing.T) {
	flat := NewMachine(openLong(), testCfg())
	strong := NewMachine(openLong(), testCfg())
	now := baseTime.Add(20 * time.Minute)
	windy := Env{Regime: models.RegimeRanging, TrendStrength: 55}

	flat.Evaluate(now, 52000, ranging)
	strong.Evaluate(now, 52000, windy)

	// widened stop = 52000 * (1 - 0.014*1.5) = 50908, so 51000 only
	// crosses the unwidened trail
	if d := flat.Evaluate(now.Add(time.Second), 51000, ranging); d == nil {
		t.Fatal("expected close without trend widening")
	}
	if d := strong.Evaluate(now.Add(time.Second), 51000, windy); d != nil {
		t.Fatalf("widened trail should hold, got close %s", d.Reason)
	}
}

func TestTrendingRegimeWidensTrail(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	now := baseTime.Add(20 * time.Minute)
	trending := Env{Regime: models.RegimeTrending}

	m.Evaluate(now, 52000, trending)
	// trending params put the trail at 0.009*2.0=0.018, widened to 0.027;
	// stop = 52000 * 0.973 = 50596
	if d := m.Evaluate(now.Add(time.Second), 51000, trending); d != nil {
		t.Fatalf("trending trail should hold at 51000, got %s", d.Reason)
	}
	d := m.Evaluate(now.Add(2*time.Second), 50500, trending)
	if d == nil || d.Reason != models.ReasonTrailHitProfit {
		t.Fatalf("expected trail_hit_profit below widened stop, got %v", d)
	}
}

func TestHighProfitCompressionTightensStop(t *testing.T) {
	compressed := NewMachine(openLong(), testCfg())

	loose := testCfg()
	loose.HighProfitThreshold = 1.0 // never compresses
	uncompressed := NewMachine(openLong(), loose)

	now := baseTime.Add(30 * time.Minute)
	windy := Env{Regime: models.RegimeRanging, TrendStrength: 55}

	compressed.Evaluate(now, 56000, windy)
	uncompressed.Evaluate(now, 56000, windy)

	// widened trail 0.021 compresses to ~0.0183 past 5% profit:
	// stop 56000*0.9817=54975 vs 56000*0.979=54824; 54900 sits between
	if d := compressed.Evaluate(now.Add(time.Second), 54900, windy); d == nil {
		t.Fatal("expected close under compressed trail")
	}
	if d := uncompressed.Evaluate(now.Add(time.Second), 54900, windy); d != nil {
		t.Fatalf("uncompressed trail should hold, got %s", d.Reason)
	}
}

func TestMinHoldingSuppressesYoungProfitCross(t *testing.T) {
	young := NewMachine(openLong(), testCfg())
	aged := NewMachine(openLong(), testCfg())

	// peak 1.4% arms the trail at 0.0084; stop = 50700*(1-0.0084) = 50274
	for _, m := range []*Machine{young, aged} {
		if d := m.Evaluate(baseTime.Add(time.Minute), 50700, ranging); d != nil {
			t.Fatalf("unexpected close at peak: %s", d.Reason)
		}
	}

	// +0.4% cross at 2 minutes is suppressed, the same cross at 15 minutes
	// closes
	if d := young.Evaluate(baseTime.Add(2*time.Minute), 50200, ranging); d != nil {
		t.Fatalf("young cross should be suppressed, got %s", d.Reason)
	}
	d := aged.Evaluate(baseTime.Add(15*time.Minute), 50200, ranging)
	if d == nil || d.Reason != models.ReasonTrailHitProfit {
		t.Fatalf("expected trail_hit_profit after min holding, got %v", d)
	}
}

// A young position whose loss exceeds the fee guard (2.5x the per-side fee)
// is never protected by minimum holding.
func TestYoungLossPastFeeGuardCloses(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	if d := m.Evaluate(baseTime.Add(time.Minute), 50290, ranging); d != nil {
		t.Fatalf("unexpected close at peak: %s", d.Reason)
	}
	// stop = 50290*0.993 = 49938; 49900 crosses at -0.2%, deeper than the
	// 0.125% guard
	d := m.Evaluate(baseTime.Add(2*time.Minute), 49900, ranging)
	if d == nil {
		t.Fatal("expected close despite young age")
	}
	if d.Reason != models.ReasonTrailHitLoss {
		t.Fatalf("reason = %s, want %s", d.Reason, models.ReasonTrailHitLoss)
	}
}

func TestMinProfitToCloseSuppression(t *testing.T) {
	m := NewMachine(openLong(), testCfg())
	now := baseTime.Add(15 * time.Minute)

	// peak 0.8%: trail arms at initial width; stop = 50400*0.993 = 50047
	if d := m.Evaluate(now, 50400, ranging); d != nil {
		t.Fatalf("unexpected close at peak: %s", d.Reason)
	}
	// cross at +0.09% profit stays open, below the 0.3% floor
	if d := m.Evaluate(now.Add(time.Second), 50040, ranging); d != nil {
		t.Fatalf("negligible profit should not close, got %s", d.Reason)
	}
	if m.Closed() {
		t.Fatal("machine should remain open")
	}
}

func TestShortSide(t *testing.T) {
	t.Run("loss cut", func(t *testing.T) {
		m := NewMachine(openShort(), testCfg())
		now := baseTime.Add(time.Minute)
		var d *models.CloseDecision
		for i := 0; i < 3; i++ {
			d = m.Evaluate(now.Add(time.Duration(i)*time.Second), 50300, ranging)
		}
		if d == nil || d.Reason != models.ReasonLossCut {
			t.Fatalf("expected loss_cut on short at +0.6%% price, got %v", d)
		}
	})
	t.Run("trail profit", func(t *testing.T) {
		m := NewMachine(openShort(), testCfg())
		now := baseTime.Add(20 * time.Minute)
		m.Evaluate(now, 48000, ranging)
		// stop = 48000 * (1 + 0.014) = 48672; 48700 crosses at +2.6%
		d := m.Evaluate(now.Add(time.Second), 48700, ranging)
		if d == nil || d.Reason != models.ReasonTrailHitProfit {
			t.Fatalf("expected trail_hit_profit on short, got %v", d)
		}
	})
}

func TestInvalidPriceFallsBackToEntry(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	if d := m.Evaluate(baseTime.Add(time.Minute), 0, ranging); d != nil {
		t.Fatalf("zero price must not close, got %s", d.Reason)
	}
	st := m.State()
	if st.HighestPrice != 50000 || st.LowestPrice != 50000 {
		t.Fatalf("extremes moved on fallback: %v/%v", st.HighestPrice, st.LowestPrice)
	}
	if m.Closed() {
		t.Fatal("machine should remain open")
	}
}

func TestUnusableEntrySkipsCycle(t *testing.T) {
	p := openLong()
	p.EntryPrice = 0
	m := NewMachine(p, testCfg())

	if d := m.Evaluate(baseTime.Add(time.Hour), 0, ranging); d != nil {
		t.Fatalf("expected skipped cycle, got %s", d.Reason)
	}
	if m.Closed() {
		t.Fatal("skipped cycle must not close")
	}
}

func TestForceCloseIsTerminal(t *testing.T) {
	m := NewMachine(openLong(), testCfg())

	d := m.ForceClose(baseTime.Add(time.Minute), 49950, models.ReasonMarginCritical, "margin ratio below critical")
	if d == nil || d.Reason != models.ReasonMarginCritical {
		t.Fatalf("expected margin_critical close, got %v", d)
	}
	if !m.Closed() {
		t.Fatal("machine should be terminal")
	}
	if d2 := m.ForceClose(baseTime.Add(2*time.Minute), 49900, models.ReasonManual, ""); d2 != nil {
		t.Fatal("second force close should be a no-op")
	}
	if d3 := m.Evaluate(baseTime.Add(3*time.Minute), 40000, ranging); d3 != nil {
		t.Fatal("closed machine must not evaluate")
	}
}

func TestLeverageDefaultsFromConfig(t *testing.T) {
	p := openLong()
	p.Leverage = 0
	m := NewMachine(p, testCfg())
	if m.Position().Leverage != 3 {
		t.Fatalf("leverage = %v, want config default 3", m.Position().Leverage)
	}
}
