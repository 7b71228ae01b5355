package ingest

import (
	"context"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	mid "riskpilot/internal/middleware"
	"riskpilot/pkg/logger"
)

// Collector pulls ticks from the market stream and feeds the pipeline,
// reconnecting when the stream drops.
type Collector struct {
	stream  drepo.MarketStream
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
	logger  *logger.Logger
}

// NewCollector creates a Collector.
func NewCollector(stream drepo.MarketStream, pipe *mid.TickPipeline, metrics drepo.Metrics, lgr *logger.Logger) *Collector {
	return &Collector{stream: stream, pipe: pipe, metrics: metrics, logger: lgr}
}

// IsConnected reports stream status.
func (c *Collector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and launches the consume loop.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.run(ctx)
	return nil
}

// run consumes until the stream fails, then reconnects and resumes with
// fresh channels.
func (c *Collector) run(ctx context.Context) {
	for {
		ticks, errs := c.stream.Read(ctx)
		c.consume(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}

		c.metrics.RecordError("stream")
		for {
			if err := c.stream.Reconnect(ctx); err == nil {
				c.logger.Info("stream reconnected")
				break
			} else {
				c.logger.Warn("stream reconnect failed", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Collector) consume(ctx context.Context, ticks <-chan *models.Tick, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				c.logger.Warn("stream error", logger.Error(err))
				return
			}
		case t, ok := <-ticks:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			_ = c.pipe.Process(ctx, t)
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
