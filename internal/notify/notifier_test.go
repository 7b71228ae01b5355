package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"riskpilot/internal/service/metrics"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
)

type stubQueue struct {
	mu        sync.Mutex
	published []Alert
}

func (q *stubQueue) PublishMessage(ctx context.Context, msgType string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a, ok := payload.(Alert); ok {
		q.published = append(q.published, a)
	}
	return nil
}

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func (q *stubQueue) alerts() []Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Alert, len(q.published))
	copy(out, q.published)
	return out
}

func testAlertsCfg() config.AlertsConfig {
	return config.AlertsConfig{
		Enabled:            true,
		WebhookURL:         "http://hook.local/alerts",
		Workers:            1,
		QueueSize:          16,
		RetryLimit:         1,
		RetryDelaySec:      1,
		AggregateWindowSec: 3600,
		CountThreshold:     10,
		RateCapacity:       1,
		RateRefillPerSec:   0,
	}
}

func waitForAlerts(t *testing.T, q *stubQueue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("published = %d, want %d", q.count(), want)
}

func TestCriticalBypassesRateLimit(t *testing.T) {
	q := &stubQueue{}
	n := New(testAlertsCfg(), q, metrics.Nop(), logger.Nop())
	defer n.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		n.Notify(ctx, SeverityCritical, "margin level", "ratio below cut")
	}
	if got := q.count(); got != 3 {
		t.Fatalf("published = %d, want 3", got)
	}
}

func TestRateLimitedAlertsAggregate(t *testing.T) {
	q := &stubQueue{}
	n := New(testAlertsCfg(), q, metrics.Nop(), logger.Nop())

	ctx := context.Background()
	n.Notify(ctx, SeverityWarning, "liquidation distance", "BTCUSDT at 4.2%")
	n.Notify(ctx, SeverityWarning, "liquidation distance", "BTCUSDT at 3.9%")
	n.Notify(ctx, SeverityWarning, "liquidation distance", "BTCUSDT at 3.1%")

	if got := q.count(); got != 1 {
		t.Fatalf("published before flush = %d, want 1", got)
	}
	if got := n.agg.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	// Close drains the aggregator and waits for the flush.
	n.Close()

	if got := q.count(); got != 2 {
		t.Fatalf("published after close = %d, want 2", got)
	}
	summary := q.alerts()[1]
	if summary.Count != 2 {
		t.Fatalf("summary count = %d, want 2", summary.Count)
	}
	if summary.Message != "BTCUSDT at 3.1%" {
		t.Fatalf("summary message = %q, want latest", summary.Message)
	}
}

func TestThresholdTriggersFlush(t *testing.T) {
	cfg := testAlertsCfg()
	cfg.RateCapacity = 0 // everything aggregates
	cfg.CountThreshold = 2
	q := &stubQueue{}
	n := New(cfg, q, metrics.Nop(), logger.Nop())
	defer n.Close()

	ctx := context.Background()
	n.Notify(ctx, SeverityWarning, "margin level", "ratio 1.8")
	n.Notify(ctx, SeverityInfo, "regime switch", "BTCUSDT trending")

	waitForAlerts(t, q, 2)
	if got := n.agg.Pending(); got != 0 {
		t.Fatalf("pending after threshold flush = %d, want 0", got)
	}
}

func TestDistinctTitlesDoNotShareBuckets(t *testing.T) {
	q := &stubQueue{}
	n := New(testAlertsCfg(), q, metrics.Nop(), logger.Nop())
	defer n.Close()

	ctx := context.Background()
	n.Notify(ctx, SeverityWarning, "liquidation distance", "BTCUSDT at 4.2%")
	n.Notify(ctx, SeverityWarning, "margin level", "ratio 1.8")

	if got := q.count(); got != 2 {
		t.Fatalf("published = %d, want 2", got)
	}
}

func TestDisabledNotifierDropsAlerts(t *testing.T) {
	cfg := testAlertsCfg()
	cfg.Enabled = false
	q := &stubQueue{}
	n := New(cfg, q, metrics.Nop(), logger.Nop())
	defer n.Close()

	n.Notify(context.Background(), SeverityCritical, "margin level", "ratio below cut")
	if got := q.count(); got != 0 {
		t.Fatalf("published = %d, want 0", got)
	}
}

func TestLogOnlyWithoutQueue(t *testing.T) {
	n := New(testAlertsCfg(), nil, metrics.Nop(), logger.Nop())
	defer n.Close()

	n.Notify(context.Background(), SeverityCritical, "margin level", "ratio below cut")
	n.Notify(context.Background(), SeverityWarning, "margin level", "ratio 1.8")
}
