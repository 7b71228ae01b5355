package notify

import (
	"context"
	"fmt"
	"time"

	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/service/ratelimit"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/queue"
)

// Alert severities, ordered. Critical alerts skip the rate limiter.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const alertJobType = "alert_webhook"

// Notifier delivers operator alerts. Critical alerts go straight to the
// webhook queue; lower severities pass through a per-title token bucket, and
// whatever the bucket rejects lands in the aggregator to come out later as a
// counted summary. When the queue is absent alerts are log-only.
type Notifier struct {
	cfg     config.AlertsConfig
	queue   queue.Service
	limiter *ratelimit.Limiter
	agg     *Aggregator
	metrics drepo.Metrics
	logger  *logger.Logger
}

// New creates a notifier. q may be nil for log-only operation.
func New(cfg config.AlertsConfig, q queue.Service, metrics drepo.Metrics, lgr *logger.Logger) *Notifier {
	n := &Notifier{
		cfg:     cfg,
		queue:   q,
		limiter: ratelimit.New(),
		metrics: metrics,
		logger:  lgr,
	}
	n.agg = NewAggregator(cfg.AggregateWindow(), cfg.CountThreshold, n.dispatchBatch)
	return n
}

// Notify records one alert. Safe for concurrent use; never blocks on
// delivery.
func (n *Notifier) Notify(ctx context.Context, severity, title, message string) {
	if !n.cfg.Enabled {
		return
	}

	if severity == SeverityCritical {
		n.dispatch(ctx, Alert{
			Severity:  severity,
			Title:     title,
			Message:   message,
			Count:     1,
			FirstSeen: time.Now(),
			LastSeen:  time.Now(),
		})
		return
	}

	key := severity + ":" + title
	if n.limiter.Allow(key, n.cfg.RateCapacity, n.cfg.RateRefillPerSec) {
		n.dispatch(ctx, Alert{
			Severity:  severity,
			Title:     title,
			Message:   message,
			Count:     1,
			FirstSeen: time.Now(),
			LastSeen:  time.Now(),
		})
		return
	}

	n.agg.Add(severity, title, message)
}

// Close flushes aggregated alerts.
func (n *Notifier) Close() {
	n.agg.Close()
}

func (n *Notifier) dispatchBatch(entries []Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := range entries {
		n.dispatch(ctx, entries[i])
	}
}

func (n *Notifier) dispatch(ctx context.Context, a Alert) {
	text := a.Message
	if a.Count > 1 {
		text = fmt.Sprintf("%s (x%d)", a.Message, a.Count)
	}

	fields := []logger.Field{
		logger.String("title", a.Title),
		logger.String("text", text),
	}
	switch a.Severity {
	case SeverityCritical:
		n.logger.Error("alert", fields...)
	case SeverityWarning:
		n.logger.Warn("alert", fields...)
	default:
		n.logger.Info("alert", fields...)
	}

	if n.queue == nil || n.cfg.WebhookURL == "" {
		return
	}
	if err := n.queue.PublishMessage(ctx, alertJobType, a); err != nil {
		n.metrics.RecordError("alert_enqueue")
		n.logger.Warn("alert enqueue failed",
			logger.String("title", a.Title),
			logger.Error(err))
	}
}
