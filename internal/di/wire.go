//go:build wireinject
// +build wireinject

package di

import (
	"riskpilot/pkg/config"
	"riskpilot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideClickHouse,
		ProvideKafkaProducer,
		ProvidePostgres,

		// Persistence
		ProvideRiskStatsStore,
		ProvideCandleArchive,
		ProvideTradeJournal,
		ProvideEventPublisher,

		// Alerts
		ProvideQueue,
		ProvideNotifier,

		// Exchange access
		ProvideMarketStream,
		ProvideBytesCache,
		ProvideRestClient,
		ProvideAccountCache,
		ProvideAccountSource,

		// Market data and decision core
		ProvideIngestor,
		ProvideClassifier,
		ProvideGate,
		ProvideManager,
		ProvideTickPipeline,
		ProvideCollector,
		ProvideKafkaConsumer,
		ProvideTickHandler,
		ProvideGuard,

		// API
		ProvideHandler,
		ProvideHTTPServer,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
