package regime

import (
	"context"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
)

// CandleSource provides sealed candle windows, implemented by the ingestor.
type CandleSource interface {
	CandleWindow(symbol string, tf drepo.Timeframe, n int) []models.Candle
	SealedCount(symbol string, tf drepo.Timeframe) int
}

type symbolState struct {
	state  models.RegimeState
	window []models.RegimeLabel // pending classifications, newest last
}

// Classifier labels each symbol's market character from candle indicators
// and applies hysteresis before committing a change. Consumers pull the
// committed state on demand; nothing is pushed on the hot path.
type Classifier struct {
	cfg       config.ClassifierConfig
	tf        drepo.Timeframe
	source    CandleSource
	publisher drepo.EventPublisher
	metrics   drepo.Metrics
	logger    *logger.Logger

	mu     sync.RWMutex
	states map[string]*symbolState
}

// New creates a Classifier. Every symbol starts RANGING until enough sealed
// candles accumulate.
func New(cfg config.ClassifierConfig, symbols []string, source CandleSource, publisher drepo.EventPublisher, metrics drepo.Metrics, lgr *logger.Logger) *Classifier {
	now := time.Now().UTC()
	states := make(map[string]*symbolState, len(symbols))
	for _, sym := range symbols {
		states[sym] = &symbolState{
			state: models.RegimeState{
				Symbol:      sym,
				Label:       models.RegimeRanging,
				Confidence:  0.5,
				EnteredAt:   now,
				EvaluatedAt: now,
			},
		}
	}
	return &Classifier{
		cfg:       cfg,
		tf:        drepo.NormalizeTimeframe(cfg.Timeframe),
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		logger:    lgr,
		states:    states,
	}
}

// Run evaluates all symbols on a fixed interval until ctx is done.
func (c *Classifier) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Evaluate(ctx, time.Now().UTC())
		}
	}
}

// Evaluate runs one classification pass over all symbols.
func (c *Classifier) Evaluate(ctx context.Context, now time.Time) {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.states))
	for sym := range c.states {
		symbols = append(symbols, sym)
	}
	c.mu.Unlock()

	for _, sym := range symbols {
		c.evaluateSymbol(ctx, now, sym)
	}
}

// Current returns the committed state for a symbol. Unknown symbols report
// RANGING, the engine's conservative default.
func (c *Classifier) Current(symbol string) models.RegimeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok {
		return models.RegimeState{
			Symbol:     symbol,
			Label:      models.RegimeRanging,
			Confidence: 0.5,
		}
	}
	return st.state
}

// Label is a convenience for Current(symbol).Label.
func (c *Classifier) Label(symbol string) models.RegimeLabel {
	return c.Current(symbol).Label
}

func (c *Classifier) evaluateSymbol(ctx context.Context, now time.Time, symbol string) {
	if c.source.SealedCount(symbol, c.tf) < c.cfg.MinSamples {
		return
	}
	need := c.cfg.MinSamples
	if c.cfg.LongWindow+1 > need {
		need = c.cfg.LongWindow + 1
	}
	candles := c.source.CandleWindow(symbol, c.tf, need)
	if len(candles) < c.cfg.MinSamples {
		return
	}

	ind := models.RegimeIndicators{
		ShortMA:       SMA(candles, c.cfg.ShortWindow),
		LongMA:        SMA(candles, c.cfg.LongWindow),
		VolatilityPct: ATRPercent(candles, c.cfg.ATRWindow),
		TrendStrength: TrendStrength(candles, c.cfg.ATRWindow),
		DeviationPct:  DeviationPercent(candles, c.cfg.LongWindow),
		RangeWidthPct: RangeWidthPercent(candles, c.cfg.ReversalWindow),
		Reversals:     Reversals(candles, c.cfg.ReversalWindow),
		Samples:       len(candles),
	}

	c.mu.Lock()
	st, ok := c.states[symbol]
	if !ok {
		st = &symbolState{state: models.RegimeState{
			Symbol:    symbol,
			Label:     models.RegimeRanging,
			EnteredAt: now,
		}}
		c.states[symbol] = st
	}

	label, confidence := c.classify(ind, st.state.Label)
	c.apply(ctx, now, st, label, confidence, ind)
	c.mu.Unlock()
}

// classify applies the first-match rules against the indicators.
func (c *Classifier) classify(ind models.RegimeIndicators, prev models.RegimeLabel) (models.RegimeLabel, float64) {
	absDev := ind.DeviationPct
	if absDev < 0 {
		absDev = -absDev
	}

	if ind.VolatilityPct > c.cfg.VolatilityHighPct && ind.Reversals > c.cfg.ReversalLimit {
		conf := 0.5 +
			0.25*excess(ind.VolatilityPct, c.cfg.VolatilityHighPct) +
			0.25*excess(float64(ind.Reversals), float64(c.cfg.ReversalLimit))
		return models.RegimeChoppy, clampConf(conf)
	}

	if absDev > c.cfg.TrendDeviationPct && ind.TrendStrength > c.cfg.TrendStrengthMin {
		conf := 0.5 +
			0.25*excess(absDev, c.cfg.TrendDeviationPct) +
			0.25*excess(ind.TrendStrength, c.cfg.TrendStrengthMin)
		return models.RegimeTrending, clampConf(conf)
	}

	if ind.RangeWidthPct < c.cfg.RangeWidthMaxPct &&
		absDev < c.cfg.TrendDeviationPct &&
		ind.TrendStrength < c.cfg.RangeStrengthMax {
		conf := 0.5 +
			0.25*slack(ind.RangeWidthPct, c.cfg.RangeWidthMaxPct) +
			0.25*slack(ind.TrendStrength, c.cfg.RangeStrengthMax)
		return models.RegimeRanging, clampConf(conf)
	}

	// no clear regime
	return prev, 0.5
}

// apply pushes the reading through the confirmation window and commits a
// transition when confirmed, or immediately for a high-confidence CHOPPY
// reading.
func (c *Classifier) apply(ctx context.Context, now time.Time, st *symbolState, label models.RegimeLabel, confidence float64, ind models.RegimeIndicators) {
	st.state.EvaluatedAt = now
	st.state.Indicators = ind

	st.window = append(st.window, label)
	if len(st.window) > c.cfg.ConfirmWindow {
		st.window = st.window[1:]
	}
	st.state.Confirmations = trailingRun(st.window)

	if label == st.state.Label {
		st.state.Confidence = confidence
		return
	}

	override := label == models.RegimeChoppy && confidence >= c.cfg.OverrideConfidence
	confirmed := len(st.window) == c.cfg.ConfirmWindow && allSame(st.window, label)
	matured := now.Sub(st.state.EnteredAt) >= c.cfg.MinDuration()
	if !override && !(confirmed && matured) {
		return
	}

	prev := st.state.Label
	st.state.Label = label
	st.state.Confidence = confidence
	st.state.EnteredAt = now
	st.state.Switches++
	st.state.Confirmations = 0
	st.window = nil

	c.metrics.RecordRegime(st.state.Symbol, string(label))
	c.metrics.RecordRegimeSwitch(st.state.Symbol, string(prev), string(label))
	c.logger.Info("regime switched",
		logger.String("symbol", st.state.Symbol),
		logger.String("from", string(prev)),
		logger.String("to", string(label)),
		logger.Float64("confidence", confidence),
		logger.Float64("volatility_pct", ind.VolatilityPct),
		logger.Int("reversals", ind.Reversals))

	if c.publisher != nil {
		stateCopy := st.state
		if err := c.publisher.PublishRegime(ctx, &stateCopy, prev); err != nil {
			c.metrics.RecordError("publish_regime")
			c.logger.Warn("publish regime", logger.Error(err))
		}
	}
}

// excess scales how far v sits past a lower threshold, 0..1.
func excess(v, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	e := (v - threshold) / threshold
	if e < 0 {
		return 0
	}
	if e > 1 {
		return 1
	}
	return e
}

// slack scales how far v sits under an upper threshold, 0..1.
func slack(v, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	s := (threshold - v) / threshold
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func clampConf(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func allSame(window []models.RegimeLabel, label models.RegimeLabel) bool {
	for _, l := range window {
		if l != label {
			return false
		}
	}
	return len(window) > 0
}

// trailingRun counts the run of identical labels at the end of the window.
func trailingRun(window []models.RegimeLabel) int {
	if len(window) == 0 {
		return 0
	}
	last := window[len(window)-1]
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] != last {
			break
		}
		n++
	}
	return n
}
