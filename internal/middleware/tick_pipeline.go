package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	domrepo "riskpilot/internal/domain/repository"
)

// Proc is the minimal downstream interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// PositionIndex reports whether a symbol currently has an open position.
type PositionIndex interface {
	HasOpen(symbol string) bool
}

// TickPipeline sits between the market stream and the ingestor. It validates
// ticks, thins the flow on symbols without open positions, and buffers when
// downstream is unavailable. Symbols with an open position always get the
// full tick flow so exit decisions see every price.
type TickPipeline struct {
	proc          Proc
	positions     PositionIndex
	metrics       domrepo.Metrics
	throttleEvery int
	bufSize       int
	bufCh         chan *models.Tick
	stopCh        chan struct{}
	started       bool
	mu            sync.Mutex
	counters      map[string]int // per-symbol counter for the 1-in-N throttle
}

type PipelineOption func(*TickPipeline)

// WithThrottleEvery forwards one in every n trade ticks for symbols without
// an open position.
func WithThrottleEvery(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.throttleEvery = n
		}
	}
}

// WithBufferSize sets the retry buffer size used when downstream errors.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewTickPipeline creates a pipeline.
func NewTickPipeline(proc Proc, positions PositionIndex, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:          proc,
		positions:     positions,
		metrics:       metrics,
		throttleEvery: 5,
		bufSize:       1000,
		bufCh:         make(chan *models.Tick, 1000),
		stopCh:        make(chan struct{}),
		counters:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.Tick, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				if err := p.proc.Process(ctx, t); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- t:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards a tick downstream, buffering
// on errors. Called from the collector goroutine only.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("tick_validate")
		return err
	}
	if !p.allow(t) {
		p.metrics.RecordThrottled(t.Symbol)
		return nil
	}
	p.metrics.RecordTick(t.Symbol)

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 {
		return fmt.Errorf("price invalid")
	}
	if t.Qty < 0 {
		return fmt.Errorf("negative qty")
	}
	return nil
}

// allow applies the 1-in-N throttle. Ticker stats updates and ticks on
// symbols with an open position always pass.
func (p *TickPipeline) allow(t *models.Tick) bool {
	if p.throttleEvery <= 1 {
		return true
	}
	if t.Stats != nil {
		return true
	}
	if p.positions != nil && p.positions.HasOpen(t.Symbol) {
		// reset so the first ticks after a close are not starved
		p.counters[t.Symbol] = 0
		return true
	}
	p.counters[t.Symbol]++
	if p.counters[t.Symbol] >= p.throttleEvery {
		p.counters[t.Symbol] = 0
		return true
	}
	return false
}
