package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/engine"
	"riskpilot/internal/exchange"
	"riskpilot/internal/guard"
	"riskpilot/internal/ingest"
	mid "riskpilot/internal/middleware"
	"riskpilot/internal/notify"
	"riskpilot/internal/regime"
	"riskpilot/internal/risk"
	pkgch "riskpilot/pkg/clickhouse"
	"riskpilot/pkg/config"
	xhttp "riskpilot/pkg/http"
	pkgkafka "riskpilot/pkg/kafka"
	applogger "riskpilot/pkg/logger"
	"riskpilot/pkg/postgres"
	"riskpilot/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// Deps carries everything the application lifecycle owns. Optional
// subsystems are nil when disabled.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Ingestor   *ingest.Ingestor
	Collector  *ingest.Collector
	Pipeline   *mid.TickPipeline
	Rest       *exchange.RestClient
	Classifier *regime.Classifier
	Manager    *engine.Manager
	Gate       *risk.Gate
	Guard      *guard.Guard
	Notifier   *notify.Notifier
	Queue      *queue.RedisQueue
	Consumer   *pkgkafka.Consumer
	Publisher  drepo.EventPublisher
	Archive    drepo.CandleArchive
	Journal    drepo.TradeJournal
	HTTP       *xhttp.Server
	ClickHouse *pkgch.Client
	Postgres   *postgres.Pool
	Redis      *redis.Client
}

// App runs the process: intake, classification, the exit engine, the margin
// guard and the management API, in that start order and the reverse on
// shutdown.
type App struct {
	deps Deps
}

// New creates the application from its wired dependencies.
func New(deps Deps) *App {
	return &App{deps: deps}
}

// Run starts every subsystem and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := a.deps
	l := d.Logger

	if d.Queue != nil {
		if err := d.Queue.Start(); err != nil {
			return err
		}
	}

	if d.ClickHouse != nil {
		if err := d.ClickHouse.Health(ctx); err != nil {
			return fmt.Errorf("clickhouse health: %w", err)
		}
	}

	if err := d.Gate.Restore(ctx); err != nil {
		return err
	}

	if n := d.Config.Ingest.BootstrapCandles; n > 0 {
		if err := d.Ingestor.Bootstrap(ctx, d.Rest, n); err != nil {
			// Live candles fill the rings; the classifier just starts later.
			l.Warn("candle bootstrap failed", applogger.Error(err))
		}
	}

	d.Manager.Start(ctx)
	go d.Classifier.Run(ctx)
	d.Guard.Start(ctx)

	if d.Collector != nil {
		if err := d.Collector.Start(ctx); err != nil {
			return err
		}
		l.Info("market stream started",
			applogger.Strings("symbols", d.Config.Exchange.Symbols))
	} else {
		d.Pipeline.Start(ctx)
	}

	if d.Consumer != nil {
		go func() {
			if err := d.Consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka tick consumer started",
			applogger.String("topic", d.Config.Kafka.TicksTopic))
	}

	if d.HTTP != nil {
		if err := d.HTTP.Start(); err != nil {
			return err
		}
		l.Info("api listening", applogger.Int("port", d.Config.Server.Port))
	}

	l.Info("riskpilot started",
		applogger.String("env", d.Config.App.Env),
		applogger.String("source", d.Config.Exchange.Source),
		applogger.Bool("dry_run", d.Config.Exchange.DryRun))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(cancel)
}

// shutdown stops intake first so nothing feeds the engine, then the engine
// itself, then drains alerts and storage.
func (a *App) shutdown(cancel context.CancelFunc) error {
	d := a.deps
	l := d.Logger

	stopCtx, stopCancel := context.WithTimeout(context.Background(), d.Config.Server.ShutdownTimeout())
	defer stopCancel()

	if d.Collector != nil {
		if err := d.Collector.Shutdown(stopCtx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	} else {
		d.Pipeline.Stop()
	}
	if d.Consumer != nil {
		if err := d.Consumer.Stop(stopCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if d.HTTP != nil {
		if err := d.HTTP.Stop(stopCtx); err != nil {
			l.Warn("http shutdown error", applogger.Error(err))
		}
	}

	if err := d.Guard.Stop(stopCtx); err != nil {
		l.Warn("guard stop error", applogger.Error(err))
	}
	if err := d.Manager.Stop(stopCtx); err != nil {
		l.Warn("engine stop error", applogger.Error(err))
	}
	cancel()

	// Alerts still buffered in the aggregator flush through the queue
	// before the workers stop.
	d.Notifier.Close()
	if d.Queue != nil {
		if err := d.Queue.Stop(stopCtx); err != nil {
			l.Warn("queue stop error", applogger.Error(err))
		}
	}

	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil {
			l.Warn("candle archive close error", applogger.Error(err))
		}
	}
	if err := d.Journal.Close(); err != nil {
		l.Warn("trade journal close error", applogger.Error(err))
	}
	if err := d.Publisher.Close(); err != nil {
		l.Warn("event publisher close error", applogger.Error(err))
	}

	if d.ClickHouse != nil {
		if err := d.ClickHouse.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if d.Postgres != nil {
		d.Postgres.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
