package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	mid "riskpilot/internal/middleware"
	pkgkafka "riskpilot/pkg/kafka"
	"riskpilot/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// KafkaTickHandler is the alternative tick source: another service publishes
// normalized ticks to Kafka and this handler feeds them into the same
// pipeline the WebSocket collector uses.
type KafkaTickHandler struct {
	topic   string
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
}

func NewKafkaTickHandler(topic string, pipe *mid.TickPipeline, metrics drepo.Metrics) *KafkaTickHandler {
	return &KafkaTickHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaTickHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, p, q}
func (h *KafkaTickHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		P      float64 `json:"p"`
		Q      float64 `json:"q"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("tick_consumer_unmarshal")
		return err
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	h.metrics.RecordLatency("tick_e2e_seconds", time.Since(time.Unix(m.T, 0)).Seconds())

	return h.pipe.Process(ctx, &models.Tick{
		Symbol:    strings.ToUpper(m.Symbol),
		Price:     m.P,
		Qty:       m.Q,
		Timestamp: m.T,
	})
}

var _ pkgkafka.MessageHandler = (*KafkaTickHandler)(nil)

// NewStreamHook reports consumer-level failures, handler errors included,
// through the engine's metrics and structured log. Decode errors are already
// counted separately by the handler.
func NewStreamHook(metrics drepo.Metrics, lgr *logger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, err error) {
			metrics.RecordError("tick_consumer")
			lgr.Warn("tick stream message failed",
				logger.String("topic", topic),
				logger.Error(err))
		},
	}
}
