package repository

import (
	"context"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	pkgkafka "riskpilot/pkg/kafka"
)

// KafkaDecisions publishes engine decisions to the decisions topic. Messages
// are keyed by symbol so per-symbol ordering survives partitioning; account
// level events share a fixed key.
type KafkaDecisions struct {
	producer *pkgkafka.Producer
	topic    string
}

const accountKey = "account"

// NewKafkaDecisions creates the publisher.
func NewKafkaDecisions(producer *pkgkafka.Producer, topic string) drepo.EventPublisher {
	return &KafkaDecisions{producer: producer, topic: topic}
}

func (k *KafkaDecisions) PublishOpen(ctx context.Context, p *models.Position) error {
	return k.producer.Publish(ctx, k.topic, []byte(p.Symbol), map[string]interface{}{
		"event":       "position_open",
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"side":        string(p.Side),
		"entry_price": p.EntryPrice,
		"quantity":    p.Quantity,
		"leverage":    p.Leverage,
		"opened_at":   p.OpenedAt.UTC(),
		"ts":          time.Now().UTC(),
	})
}

func (k *KafkaDecisions) PublishClose(ctx context.Context, p *models.Position, d *models.CloseDecision) error {
	return k.producer.Publish(ctx, k.topic, []byte(p.Symbol), map[string]interface{}{
		"event":        "position_close",
		"position_id":  p.ID,
		"symbol":       p.Symbol,
		"side":         string(p.Side),
		"reason":       string(d.Reason),
		"price":        d.Price,
		"price_change": d.PriceChange,
		"detail":       d.Detail,
		"decided_at":   d.DecidedAt.UTC(),
		"ts":           time.Now().UTC(),
	})
}

func (k *KafkaDecisions) PublishRegime(ctx context.Context, st *models.RegimeState, prev models.RegimeLabel) error {
	return k.producer.Publish(ctx, k.topic, []byte(st.Symbol), map[string]interface{}{
		"event":          "regime_switch",
		"symbol":         st.Symbol,
		"from":           string(prev),
		"to":             string(st.Label),
		"confidence":     st.Confidence,
		"trend_strength": st.Indicators.TrendStrength,
		"volatility_pct": st.Indicators.VolatilityPct,
		"ts":             time.Now().UTC(),
	})
}

func (k *KafkaDecisions) PublishMargin(ctx context.Context, rep *models.MarginReport) error {
	return k.producer.Publish(ctx, k.topic, []byte(accountKey), map[string]interface{}{
		"event":       "margin_level",
		"level":       string(rep.Level),
		"ratio":       rep.Ratio,
		"equity":      rep.Equity,
		"margin_used": rep.MarginUsed,
		"at_risk":     len(rep.AtRisk),
		"stale":       rep.Stale,
		"ts":          time.Now().UTC(),
	})
}

func (k *KafkaDecisions) PublishHalt(ctx context.Context, reason string) error {
	return k.producer.Publish(ctx, k.topic, []byte(accountKey), map[string]interface{}{
		"event":  "trading_halt",
		"reason": reason,
		"ts":     time.Now().UTC(),
	})
}

func (k *KafkaDecisions) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// NopEvents discards every event. Used when Kafka is disabled.
type NopEvents struct{}

func (NopEvents) PublishOpen(context.Context, *models.Position) error { return nil }
func (NopEvents) PublishClose(context.Context, *models.Position, *models.CloseDecision) error {
	return nil
}
func (NopEvents) PublishRegime(context.Context, *models.RegimeState, models.RegimeLabel) error {
	return nil
}
func (NopEvents) PublishMargin(context.Context, *models.MarginReport) error { return nil }
func (NopEvents) PublishHalt(context.Context, string) error                 { return nil }
func (NopEvents) Close() error                                              { return nil }

var _ drepo.EventPublisher = (*KafkaDecisions)(nil)
var _ drepo.EventPublisher = NopEvents{}
