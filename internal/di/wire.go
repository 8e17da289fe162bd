//go:build wireinject
// +build wireinject

package di

import (
	"ChartCache/pkg/config"
	"ChartCache/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes infrastructure clients after App.Run returns.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideSnapshotCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCHBarSource,
		ProvideBarSource,
		ProvideBarSink,
		ProvideSnapshotStore,
		ProvideUpdatePublisher,

		// Use cases
		ProvideRegistry,
		ProvideBarApplier,
		ProvideBarsIngestHandler,
		ProvideStreamCollector,
		ProvideHistoryLoader,
		ProvideChartsUseCase,

		// HTTP
		ProvideWarmupLimiter,
		ProvideChartsHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
