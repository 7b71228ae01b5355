package di

import (
	"context"
	"fmt"
	"time"

	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/engine"
	"riskpilot/internal/exchange"
	"riskpilot/internal/guard"
	"riskpilot/internal/handler/api"
	"riskpilot/internal/ingest"
	mid "riskpilot/internal/middleware"
	"riskpilot/internal/notify"
	"riskpilot/internal/regime"
	internalrepo "riskpilot/internal/repository"
	"riskpilot/internal/repository/memory"
	"riskpilot/internal/risk"
	icache "riskpilot/internal/service/cache"
	"riskpilot/internal/service/metrics"
	pkgcache "riskpilot/pkg/cache"
	pkgch "riskpilot/pkg/clickhouse"
	"riskpilot/pkg/config"
	xhttp "riskpilot/pkg/http"
	pkgkafka "riskpilot/pkg/kafka"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/postgres"
	"riskpilot/pkg/queue"
	"riskpilot/pkg/server"

	"github.com/redis/go-redis/v9"
)

// Optional subsystems (Kafka, ClickHouse, Postgres, Redis) return nil when
// disabled; downstream providers treat nil as "feature off" and fall back.

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus recorder, or a no-op when disabled.
func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop()
	}
	return metrics.New()
}

// ProvideRedisClient creates the shared redis connection.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout(),
	})
}

// ProvideClickHouse creates the ClickHouse client and prepares the archive
// and journal tables.
func ProvideClickHouse(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.Username, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, cfg.ClickHouse.ConnMaxLifetime()),
		pkgch.WithDialTimeout(cfg.ClickHouse.DialTimeout()),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
		pkgch.WithMaxExecutionTime(time.Duration(cfg.ClickHouse.MaxExecutionSec)*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append(internalrepo.CandleSchema(), internalrepo.TradeSchema()...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates the Kafka producer for decision events.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxRetries),
		pkgkafka.WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout()),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout()),
		pkgkafka.WithHashByKey(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher emits decision events to Kafka, or nowhere.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) drepo.EventPublisher {
	if producer == nil {
		return internalrepo.NopEvents{}
	}
	return internalrepo.NewKafkaDecisions(producer, cfg.Kafka.DecisionsTopic)
}

// ProvidePostgres creates the connection pool for the risk ledger.
func ProvidePostgres(cfg *config.Config) (*postgres.Pool, error) {
	if !cfg.Postgres.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Postgres.ConnTimeout())
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return pool, nil
}

// ProvideRiskStatsStore persists the daily risk ledger. Without Postgres the
// gate runs with in-process counters only.
func ProvideRiskStatsStore(pool *postgres.Pool) (drepo.RiskStatsStore, error) {
	if pool == nil {
		return nil, nil
	}
	store := internalrepo.NewPGRiskStats(pool)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("risk stats schema: %w", err)
	}
	return store, nil
}

// ProvideCandleArchive streams sealed candles into ClickHouse.
func ProvideCandleArchive(ch *pkgch.Client, cfg *config.Config, lgr *logger.Logger) drepo.CandleArchive {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHCandleArchive(ch, cfg.ClickHouse.FlushBatchSize, cfg.ClickHouse.FlushInterval(), lgr)
}

// ProvideTradeJournal records closed trades. Falls back to an in-memory
// journal so the trades endpoint works without ClickHouse.
func ProvideTradeJournal(ch *pkgch.Client) drepo.TradeJournal {
	if ch == nil {
		return memory.NewTradeJournal()
	}
	return internalrepo.NewCHTradeJournal(ch)
}

// ProvideQueue creates the redis-backed alert queue with the webhook job
// registered. Without redis, alerts are log-only.
func ProvideQueue(cfg *config.Config, client *redis.Client, lgr *logger.Logger) *queue.RedisQueue {
	if client == nil || !cfg.Alerts.Enabled {
		return nil
	}
	q := queue.NewRedisQueue(lgr, &queue.Config{
		Workers:    cfg.Alerts.Workers,
		RetryLimit: cfg.Alerts.RetryLimit,
		RetryDelay: cfg.Alerts.RetryDelay(),
	}, client, queue.WithKeyPrefix(cfg.Redis.KeyPrefix))

	if cfg.Alerts.WebhookURL != "" {
		hc := xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
		q.RegisterJob(notify.NewWebhookJob(hc, cfg.Alerts.WebhookURL, lgr))
	}
	return q
}

// ProvideNotifier creates the alert dispatcher.
func ProvideNotifier(cfg *config.Config, q *queue.RedisQueue, met drepo.Metrics, lgr *logger.Logger) *notify.Notifier {
	var qs queue.Service
	if q != nil {
		qs = q
	}
	return notify.New(cfg.Alerts, qs, met, lgr)
}

// ProvideMarketStream creates the exchange WebSocket stream. In kafka-source
// mode ticks arrive through the consumer instead.
func ProvideMarketStream(cfg *config.Config) drepo.MarketStream {
	if cfg.Exchange.Source != "websocket" {
		return nil
	}
	return exchange.NewStream(
		cfg.Exchange.WSURL,
		cfg.Exchange.Symbols,
		cfg.Exchange.ReconnectDelay(),
		cfg.Exchange.PingInterval(),
	)
}

// ProvideBytesCache backs the REST client's kline cache with redis when
// available, a local TTL map otherwise.
func ProvideBytesCache(cfg *config.Config, client *redis.Client) icache.BytesCache {
	if client != nil {
		return icache.NewRedisCache(client, cfg.Redis.KeyPrefix)
	}
	return icache.NewTTLCache()
}

// ProvideRestClient creates the exchange REST client used for candle
// bootstrap, account snapshots and close orders.
func ProvideRestClient(cfg *config.Config, bytesCache icache.BytesCache, lgr *logger.Logger) *exchange.RestClient {
	return exchange.NewRestClient(cfg.Exchange, bytesCache, lgr)
}

// ProvideAccountCache is the margin snapshot cache behind the guard,
// layered over redis when available.
func ProvideAccountCache(cfg *config.Config, client *redis.Client) pkgcache.Service {
	mem := pkgcache.NewMemory()
	if client == nil {
		return mem
	}
	l2 := pkgcache.NewRedis(client, pkgcache.WithKeyPrefix(cfg.Redis.KeyPrefix))
	return pkgcache.NewLayered(mem, l2, pkgcache.WithBackfillTTL(cfg.Guard.CacheTTL()))
}

// ProvideAccountSource wraps the REST account endpoint with caching and
// retry so guard sweeps ride out short exchange outages.
func ProvideAccountSource(rest *exchange.RestClient, c pkgcache.Service, cfg *config.Config, met drepo.Metrics, lgr *logger.Logger) drepo.AccountSource {
	return guard.NewCachedSource(rest, c, cfg.Guard, met, lgr)
}

// ProvideIngestor creates the candle and snapshot keeper.
func ProvideIngestor(cfg *config.Config, archive drepo.CandleArchive, met drepo.Metrics, lgr *logger.Logger) *ingest.Ingestor {
	tfs := make([]drepo.Timeframe, 0, len(cfg.Ingest.Timeframes))
	for _, tf := range cfg.Ingest.Timeframes {
		tfs = append(tfs, drepo.NormalizeTimeframe(tf))
	}
	opts := []ingest.Option{}
	if archive != nil {
		opts = append(opts, ingest.WithArchive(archive))
	}
	return ingest.New(cfg.Exchange.Symbols, tfs, cfg.Ingest.RingSize, cfg.Ingest.SnapshotTTL(), met, lgr, opts...)
}

// ProvideClassifier creates the market regime classifier.
func ProvideClassifier(cfg *config.Config, ing *ingest.Ingestor, pub drepo.EventPublisher, met drepo.Metrics, lgr *logger.Logger) *regime.Classifier {
	return regime.New(cfg.Classifier, cfg.Exchange.Symbols, ing, pub, met, lgr)
}

// ProvideGate creates the trade admission gate.
func ProvideGate(cfg *config.Config, store drepo.RiskStatsStore, cls *regime.Classifier, met drepo.Metrics, lgr *logger.Logger) *risk.Gate {
	opts := []risk.Option{risk.WithLabels(cls)}
	if store != nil {
		opts = append(opts, risk.WithStore(store))
	}
	return risk.New(cfg.Risk, met, lgr, opts...)
}

// ProvideManager creates the exit engine.
func ProvideManager(
	cfg *config.Config,
	cls *regime.Classifier,
	ing *ingest.Ingestor,
	rest *exchange.RestClient,
	pub drepo.EventPublisher,
	gate *risk.Gate,
	journal drepo.TradeJournal,
	met drepo.Metrics,
	lgr *logger.Logger,
) *engine.Manager {
	return engine.NewManager(cfg.Engine, cls, rest, pub, met, lgr,
		engine.WithAdmission(gate),
		engine.WithJournal(journal),
		engine.WithStrength(ing),
	)
}

// ProvideTickPipeline sits between the stream and the ingestor, throttling
// symbols without open positions.
func ProvideTickPipeline(cfg *config.Config, ing *ingest.Ingestor, mgr *engine.Manager, met drepo.Metrics) *mid.TickPipeline {
	return mid.NewTickPipeline(ing, mgr.Book(), met,
		mid.WithThrottleEvery(cfg.Ingest.ThrottleEvery),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

// ProvideCollector pumps the WebSocket stream into the pipeline.
func ProvideCollector(stream drepo.MarketStream, pipe *mid.TickPipeline, met drepo.Metrics, lgr *logger.Logger) *ingest.Collector {
	if stream == nil {
		return nil
	}
	return ingest.NewCollector(stream, pipe, met, lgr)
}

// ProvideKafkaConsumer creates the tick consumer for kafka-source mode.
func ProvideKafkaConsumer(cfg *config.Config, met drepo.Metrics, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Exchange.Source != "kafka" || !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Ingest.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.MaxRetries, cfg.Kafka.BackoffMin(), cfg.Kafka.BackoffMax()),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithHook(ingest.NewStreamHook(met, lgr))
	return consumer, nil
}

// ProvideTickHandler decodes tick messages off the kafka topic.
func ProvideTickHandler(cfg *config.Config, pipe *mid.TickPipeline, met drepo.Metrics) *ingest.KafkaTickHandler {
	if cfg.Exchange.Source != "kafka" {
		return nil
	}
	return ingest.NewKafkaTickHandler(cfg.Kafka.TicksTopic, pipe, met)
}

// ProvideGuard creates the margin guard.
func ProvideGuard(
	cfg *config.Config,
	source drepo.AccountSource,
	mgr *engine.Manager,
	gate *risk.Gate,
	notifier *notify.Notifier,
	pub drepo.EventPublisher,
	met drepo.Metrics,
	lgr *logger.Logger,
) *guard.Guard {
	return guard.New(cfg.Guard, source, mgr, gate, met, lgr,
		guard.WithNotifier(notifier),
		guard.WithPublisher(pub),
	)
}

// ProvideHandler creates the management API handler.
func ProvideHandler(
	lgr *logger.Logger,
	mgr *engine.Manager,
	cls *regime.Classifier,
	gate *risk.Gate,
	ing *ingest.Ingestor,
	g *guard.Guard,
	journal drepo.TradeJournal,
) *api.Handler {
	return api.NewHandler(lgr, mgr, cls, gate, ing,
		api.WithGuard(g),
		api.WithJournal(journal),
	)
}

// ProvideHTTPServer creates the API server.
func ProvideHTTPServer(cfg *config.Config, handler *api.Handler) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	return xhttp.NewServer(handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout(), cfg.Server.WriteTimeout()),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
	)
}

// ProvideApp assembles the application. Late bindings that close dependency
// loops happen here: the ingestor feeds the engine it was built before, and
// the consumer learns its handler.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	ing *ingest.Ingestor,
	collector *ingest.Collector,
	pipe *mid.TickPipeline,
	rest *exchange.RestClient,
	cls *regime.Classifier,
	mgr *engine.Manager,
	gate *risk.Gate,
	g *guard.Guard,
	notifier *notify.Notifier,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	th *ingest.KafkaTickHandler,
	pub drepo.EventPublisher,
	archive drepo.CandleArchive,
	journal drepo.TradeJournal,
	httpServer *xhttp.Server,
	chClient *pkgch.Client,
	pgPool *postgres.Pool,
	rdb *redis.Client,
) *server.App {
	ing.SetSink(mgr)
	if consumer != nil && th != nil {
		consumer.RegisterHandler(th)
	}
	return server.New(server.Deps{
		Config:     cfg,
		Logger:     lgr,
		Ingestor:   ing,
		Collector:  collector,
		Pipeline:   pipe,
		Rest:       rest,
		Classifier: cls,
		Manager:    mgr,
		Gate:       gate,
		Guard:      g,
		Notifier:   notifier,
		Queue:      q,
		Consumer:   consumer,
		Publisher:  pub,
		Archive:    archive,
		Journal:    journal,
		HTTP:       httpServer,
		ClickHouse: chClient,
		Postgres:   pgPool,
		Redis:      rdb,
	})
}
