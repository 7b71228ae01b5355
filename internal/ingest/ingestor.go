package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/logger"
)

// PriceSink receives validated prices after series bookkeeping. The engine
// manager implements this with a non-blocking hand-off.
type PriceSink interface {
	OnPrice(symbol string, price float64, at time.Time)
}

// Ingestor maintains candle series and market snapshots per symbol and
// forwards each accepted price to the engine. Writes come from the single
// pipeline goroutine; reads come from the classifier and API.
type Ingestor struct {
	mu          sync.RWMutex
	series      map[string]*SymbolSeries
	timeframes  []drepo.Timeframe
	ringSize    int
	snapshotTTL time.Duration

	sink    PriceSink
	archive drepo.CandleArchive
	metrics drepo.Metrics
	logger  *logger.Logger
}

// Option configures the Ingestor.
type Option func(*Ingestor)

// WithArchive streams sealed candles into long-term storage.
func WithArchive(a drepo.CandleArchive) Option {
	return func(i *Ingestor) { i.archive = a }
}

// WithSink forwards accepted prices to the engine.
func WithSink(s PriceSink) Option {
	return func(i *Ingestor) { i.sink = s }
}

// SetSink attaches the price sink after construction. The engine consumes
// ingested prices but is built from the regime classifier, which reads this
// ingestor's candles; the sink closes that loop. Call before ticks flow.
func (i *Ingestor) SetSink(s PriceSink) { i.sink = s }

// New creates an Ingestor for the given symbols. An empty timeframe list
// tracks every supported timeframe.
func New(symbols []string, timeframes []drepo.Timeframe, ringSize int, snapshotTTL time.Duration, metrics drepo.Metrics, lgr *logger.Logger, opts ...Option) *Ingestor {
	if len(timeframes) == 0 {
		timeframes = drepo.AllTimeframes()
	}
	ing := &Ingestor{
		series:      make(map[string]*SymbolSeries, len(symbols)),
		timeframes:  timeframes,
		ringSize:    ringSize,
		snapshotTTL: snapshotTTL,
		metrics:     metrics,
		logger:      lgr,
	}
	for _, sym := range symbols {
		ing.series[sym] = NewSymbolSeries(sym, timeframes, ringSize)
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Bootstrap seeds candle rings from REST history so the classifier has
// samples before live candles seal. The trailing incomplete candle is
// dropped.
func (i *Ingestor) Bootstrap(ctx context.Context, history drepo.CandleHistory, limit int) error {
	if history == nil || limit <= 0 {
		return nil
	}
	now := time.Now().UTC()

	i.mu.Lock()
	defer i.mu.Unlock()

	for sym, s := range i.series {
		for _, tf := range i.timeframes {
			candles, err := history.RecentCandles(ctx, sym, tf, limit)
			if err != nil {
				return fmt.Errorf("bootstrap %s %s: %w", sym, tf, err)
			}
			if n := len(candles); n > 0 && candles[n-1].Bucket.Equal(tf.Bucket(now)) {
				candles = candles[:n-1]
			}
			s.Seed(tf, candles)
			i.logger.Info("seeded candles",
				logger.String("symbol", sym),
				logger.String("timeframe", string(tf)),
				logger.Int("count", len(candles)))
		}
	}
	return nil
}

// Process implements the pipeline downstream. Unknown symbols get a series
// on first sight.
func (i *Ingestor) Process(ctx context.Context, t *models.Tick) error {
	i.mu.Lock()
	s, ok := i.series[t.Symbol]
	if !ok {
		s = NewSymbolSeries(t.Symbol, i.timeframes, i.ringSize)
		i.series[t.Symbol] = s
	}
	sealed := s.Apply(t)
	i.mu.Unlock()

	i.metrics.RecordLastPrice(t.Symbol, t.Price)
	for _, sc := range sealed {
		i.metrics.RecordCandleSealed(t.Symbol, string(sc.Timeframe))
		if i.archive != nil {
			if err := i.archive.ArchiveCandle(ctx, sc.Timeframe, sc.Candle); err != nil {
				i.metrics.RecordError("candle_archive")
				i.logger.Warn("archive candle",
					logger.String("symbol", t.Symbol),
					logger.Error(err))
			}
		}
	}

	if i.sink != nil && t.Stats == nil {
		i.sink.OnPrice(t.Symbol, t.Price, time.Unix(t.Timestamp, 0).UTC())
	}
	return nil
}

// CandleWindow returns up to n newest sealed candles for the symbol and
// timeframe, oldest first.
func (i *Ingestor) CandleWindow(symbol string, tf drepo.Timeframe, n int) []models.Candle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.series[symbol]
	if !ok {
		return nil
	}
	return s.Window(tf, n)
}

// SealedCount returns the number of sealed candles available.
func (i *Ingestor) SealedCount(symbol string, tf drepo.Timeframe) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.series[symbol]
	if !ok {
		return 0
	}
	return s.Sealed(tf)
}

// Snapshot returns the market snapshot for a symbol. ok is false when the
// symbol is unknown or the snapshot has aged past the freshness TTL.
func (i *Ingestor) Snapshot(symbol string) (models.MarketSnapshot, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.series[symbol]
	if !ok {
		return models.MarketSnapshot{}, false
	}
	snap := s.Snapshot()
	if !snap.Fresh(time.Now().UTC(), i.snapshotTTL) {
		return snap, false
	}
	return snap, true
}

// Strength returns the live directional-strength reading for a symbol,
// zero when the symbol is unknown. Advanced tick by tick inside Process,
// never recomputed from history.
func (i *Ingestor) Strength(symbol string) float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.series[symbol]
	if !ok {
		return 0
	}
	return s.Strength()
}

// Symbols returns the tracked symbols.
func (i *Ingestor) Symbols() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.series))
	for sym := range i.series {
		out = append(out, sym)
	}
	return out
}
