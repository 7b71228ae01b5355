package middleware

import (
	"context"
	"testing"

	"riskpilot/internal/domain/models"
	"riskpilot/internal/service/metrics"
)

type captureProc struct {
	ticks []*models.Tick
}

func (c *captureProc) Process(_ context.Context, t *models.Tick) error {
	c.ticks = append(c.ticks, t)
	return nil
}

type stubIndex struct {
	open map[string]bool
}

func (s *stubIndex) HasOpen(symbol string) bool { return s.open[symbol] }

func tick(symbol string, price float64) *models.Tick {
	return &models.Tick{Symbol: symbol, Price: price, Qty: 1, Timestamp: 1700000000}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	proc := &captureProc{}
	p := NewTickPipeline(proc, &stubIndex{}, metrics.Nop())

	cases := []*models.Tick{
		nil,
		{Symbol: "", Price: 100, Timestamp: 1700000000},
		{Symbol: "BTCUSDT", Price: 0, Timestamp: 1700000000},
		{Symbol: "BTCUSDT", Price: 100, Timestamp: 0},
		{Symbol: "BTCUSDT", Price: 100, Qty: -1, Timestamp: 1700000000},
	}
	for i, bad := range cases {
		if err := p.Process(context.Background(), bad); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if len(proc.ticks) != 0 {
		t.Fatalf("invalid ticks reached downstream: %d", len(proc.ticks))
	}
}

func TestPipelineThrottlesIdleSymbols(t *testing.T) {
	proc := &captureProc{}
	p := NewTickPipeline(proc, &stubIndex{}, metrics.Nop(), WithThrottleEvery(5))

	for i := 0; i < 20; i++ {
		if err := p.Process(context.Background(), tick("BTCUSDT", 50000)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(proc.ticks) != 4 {
		t.Fatalf("throttle passed %d ticks, want 4", len(proc.ticks))
	}
}

func TestPipelinePassesAllTicksWithOpenPosition(t *testing.T) {
	proc := &captureProc{}
	idx := &stubIndex{open: map[string]bool{"BTCUSDT": true}}
	p := NewTickPipeline(proc, idx, metrics.Nop(), WithThrottleEvery(5))

	for i := 0; i < 10; i++ {
		if err := p.Process(context.Background(), tick("BTCUSDT", 50000)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(proc.ticks) != 10 {
		t.Fatalf("open-position symbol passed %d ticks, want 10", len(proc.ticks))
	}
}

func TestPipelinePassesTickerStats(t *testing.T) {
	proc := &captureProc{}
	p := NewTickPipeline(proc, &stubIndex{}, metrics.Nop(), WithThrottleEvery(100))

	stats := tick("BTCUSDT", 50000)
	stats.Stats = &models.TickStats{Open24h: 49000}
	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), stats); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(proc.ticks) != 3 {
		t.Fatalf("stats ticks passed %d, want 3", len(proc.ticks))
	}
}
