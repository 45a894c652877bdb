//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/pkg/config"
	"AgroPulse/pkg/metrics"
	"AgroPulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideCache,

		// Metrics
		ProvideMetrics,
		wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
		ProvideAnalyticsMetrics,

		// Storage and ingestion
		ProvideObservationArchive,
		ProvideSeriesStore,
		ProvideIngestPipeline,

		// Analytics
		ProvideAlertHub,
		ProvideAlertSinks,
		ProvideEngine,

		// Adapters
		ProvideRateLimiter,
		ProvideAnalyticsHandler,
		ProvideHTTPServer,
		ProvideRefreshJob,
		ProvideScheduler,
		ProvideKafkaConsumer,
		ProvideObservationsHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil, nil
}
