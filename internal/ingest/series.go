package ingest

import (
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
)

// CandleRing is a fixed-capacity ring of sealed candles. Oldest entries are
// evicted on overflow.
type CandleRing struct {
	buf  []models.Candle
	head int
	n    int
}

func NewCandleRing(capacity int) *CandleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &CandleRing{buf: make([]models.Candle, capacity)}
}

func (r *CandleRing) Push(c models.Candle) {
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *CandleRing) Len() int { return r.n }

// Last returns up to n newest candles in chronological order.
func (r *CandleRing) Last(n int) []models.Candle {
	if n > r.n {
		n = r.n
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.Candle, n)
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// SealedCandle is a candle closed on bucket rollover, tagged with its
// timeframe for archiving.
type SealedCandle struct {
	Timeframe drepo.Timeframe
	Candle    models.Candle
}

type frameSeries struct {
	open *models.Candle
	ring *CandleRing
}

// SymbolSeries folds ticks into one open candle per timeframe and keeps a
// ring of sealed candles behind each. It also tracks the latest market
// snapshot for the symbol. Not safe for concurrent use; the ingestor
// serializes access.
type SymbolSeries struct {
	symbol   string
	frames   map[drepo.Timeframe]*frameSeries
	order    []drepo.Timeframe
	snapshot models.MarketSnapshot
	strength *StrengthMeter
}

func NewSymbolSeries(symbol string, timeframes []drepo.Timeframe, ringSize int) *SymbolSeries {
	s := &SymbolSeries{
		symbol: symbol,
		frames: make(map[drepo.Timeframe]*frameSeries, len(timeframes)),
		order:  timeframes,
		snapshot: models.MarketSnapshot{
			Symbol: symbol,
		},
		strength: NewStrengthMeter(strengthPeriod),
	}
	for _, tf := range timeframes {
		s.frames[tf] = &frameSeries{ring: NewCandleRing(ringSize)}
	}
	return s
}

func newCandle(symbol string, bucket time.Time, price float64) *models.Candle {
	return &models.Candle{
		Bucket: bucket,
		Symbol: symbol,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: 0,
	}
}

// Apply folds a tick into every timeframe, returning candles sealed by
// bucket rollover. Ticker stats updates only refresh the snapshot.
func (s *SymbolSeries) Apply(t *models.Tick) []SealedCandle {
	at := time.Unix(t.Timestamp, 0).UTC()

	s.snapshot.LastPrice = t.Price
	s.snapshot.UpdatedAt = at
	if t.Stats != nil {
		s.snapshot.Open24h = t.Stats.Open24h
		s.snapshot.High24h = t.Stats.High24h
		s.snapshot.Low24h = t.Stats.Low24h
		s.snapshot.Volume24h = t.Stats.Volume24h
		return nil
	}
	s.strength.Advance(t.Price)

	var sealed []SealedCandle
	for _, tf := range s.order {
		fs := s.frames[tf]
		bucket := tf.Bucket(at)
		switch {
		case fs.open == nil:
			fs.open = newCandle(s.symbol, bucket, t.Price)
		case bucket.After(fs.open.Bucket):
			fs.ring.Push(*fs.open)
			sealed = append(sealed, SealedCandle{Timeframe: tf, Candle: *fs.open})
			fs.open = newCandle(s.symbol, bucket, t.Price)
		}
		// late ticks fold into the current candle
		fs.open.Apply(t.Price, t.Qty)
	}
	return sealed
}

// Seed preloads sealed candles, oldest first. Used at startup to give the
// classifier history before live ticks arrive.
func (s *SymbolSeries) Seed(tf drepo.Timeframe, candles []models.Candle) {
	fs, ok := s.frames[tf]
	if !ok {
		return
	}
	for _, c := range candles {
		fs.ring.Push(c)
	}
}

// Window returns up to n newest sealed candles for a timeframe.
func (s *SymbolSeries) Window(tf drepo.Timeframe, n int) []models.Candle {
	fs, ok := s.frames[tf]
	if !ok {
		return nil
	}
	return fs.ring.Last(n)
}

// Sealed returns the count of sealed candles for a timeframe.
func (s *SymbolSeries) Sealed(tf drepo.Timeframe) int {
	fs, ok := s.frames[tf]
	if !ok {
		return 0
	}
	return fs.ring.Len()
}

// Snapshot returns the current market snapshot.
func (s *SymbolSeries) Snapshot() models.MarketSnapshot {
	return s.snapshot
}

// Strength returns the live directional-strength reading for the symbol.
func (s *SymbolSeries) Strength() float64 {
	return s.strength.Value()
}
