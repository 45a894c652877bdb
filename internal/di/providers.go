package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/internal/handler/api"
	mid "AgroPulse/internal/middleware"
	internalrepo "AgroPulse/internal/repository"
	svcmetrics "AgroPulse/internal/service/metrics"
	"AgroPulse/internal/service/ratelimit"
	"AgroPulse/internal/usecase"
	"AgroPulse/pkg/cache"
	pkgch "AgroPulse/pkg/clickhouse"
	"AgroPulse/pkg/config"
	xhttp "AgroPulse/pkg/http"
	httpmw "AgroPulse/pkg/http/middleware"
	pkgkafka "AgroPulse/pkg/kafka"
	applogger "AgroPulse/pkg/logger"
	"AgroPulse/pkg/metrics"
	"AgroPulse/pkg/scheduler"
	"AgroPulse/pkg/server"
)

// AlertSinks are the destinations Refresh publishes new alerts to.
type AlertSinks []domrepo.AlertSink

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With logging.collect set and
// Kafka enabled, repeated log lines are aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("env", cfg.Environment))
	if cfg.Logging.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushEvery,
			CountThreshold: cfg.Logging.FlushCount,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return l, func() { l.RemoveCollector() }, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideAnalyticsMetrics() *svcmetrics.AnalyticsMetrics {
	return svcmetrics.NewAnalyticsMetrics(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient connects to ClickHouse and creates the archive
// table. Without a host the archive is disabled and nil is returned.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if cfg.ClickHouse.Host == "" {
		l.Info("ClickHouse host not set, observation archive disabled")
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ArchiveSchema(cfg.ClickHouse.Database, internalrepo.DefaultArchiveTable)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("ClickHouse connected and schema ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, func() { _ = client.Close() }, nil
}

// ProvideObservationArchive returns nil when ClickHouse is not configured.
func ProvideObservationArchive(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) domrepo.ObservationArchive {
	if client == nil {
		return nil
	}
	a := internalrepo.NewCHObservationArchive(client.DB(), cfg.ClickHouse.Database+"."+internalrepo.DefaultArchiveTable)
	a.SetLogger(l.With(applogger.String("component", "archive")))
	return a
}

func ProvideSeriesStore() *internalrepo.MemorySeriesStore {
	return internalrepo.NewMemorySeriesStore()
}

// ProvideIngestPipeline builds the pipeline in front of the store.
func ProvideIngestPipeline(store *internalrepo.MemorySeriesStore, archive domrepo.ObservationArchive, m domrepo.Metrics, l *applogger.Logger) *mid.IngestPipeline {
	opts := []mid.PipelineOption{mid.WithPipelineLogger(l.With(applogger.String("component", "pipeline")))}
	if archive != nil {
		opts = append(opts, mid.WithArchive(archive))
	}
	return mid.NewIngestPipeline(store, m, opts...)
}

// ProvideCache returns a memory cache in front of Redis when Redis is
// enabled, a memory cache alone otherwise.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	memOpts := []cache.MemoryOption{cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)}
	if !cfg.Redis.Enabled {
		c := cache.NewMemoryCache(memOpts...)
		return c, func() { _ = c.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("Redis cache connected", applogger.String("host", cfg.Redis.Host), applogger.Int("port", cfg.Redis.Port))
	c := cache.NewLayeredCache(rc, memOpts...)
	return c, func() { _ = c.Close() }, nil
}

func ProvideAlertHub(l *applogger.Logger) *api.AlertHub {
	return api.NewAlertHub(l)
}

// ProvideAlertSinks always includes the websocket hub; Kafka and the webhook
// are added when configured.
func ProvideAlertSinks(cfg *config.Config, hub *api.AlertHub, producer *pkgkafka.Producer, m domrepo.Metrics, l *applogger.Logger) AlertSinks {
	sinks := AlertSinks{hub}
	if producer != nil && cfg.Kafka.AlertsTopic != "" {
		sinks = append(sinks, internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertsTopic,
			internalrepo.BreakerSettings{
				MaxFailures: cfg.Kafka.Breaker.MaxFailures,
				OpenTimeout: cfg.Kafka.Breaker.OpenTimeout,
			}, m, l))
	}
	if cfg.Webhook.URL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Webhook.Timeout))
		sinks = append(sinks, internalrepo.NewWebhookAlertSink(client, cfg.Webhook.URL, m, l))
	}
	return sinks
}

// ProvideEngine builds the analytics engine over the shared store.
func ProvideEngine(
	cfg *config.Config,
	store *internalrepo.MemorySeriesStore,
	pipeline *mid.IngestPipeline,
	sinks AlertSinks,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*usecase.Engine, error) {
	return usecase.NewEngine(store, cfg.Engine,
		usecase.WithIngester(pipeline),
		usecase.WithAlertSinks(sinks...),
		usecase.WithMetrics(m),
		usecase.WithLogger(l.With(applogger.String("component", "engine"))),
	)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// ProvideAnalyticsHandler wires the HTTP API with its cache, hub and health checks.
func ProvideAnalyticsHandler(
	cfg *config.Config,
	engine *usecase.Engine,
	c cache.Service,
	hub *api.AlertHub,
	am *svcmetrics.AnalyticsMetrics,
	archive domrepo.ObservationArchive,
	l *applogger.Logger,
) *api.AnalyticsEchoHandler {
	opts := []api.HandlerOption{
		api.WithResponseCache(c, cfg.Cache.TTL),
		api.WithRefreshLockTTL(cfg.Scheduler.LockTTL),
		api.WithEndpointMetrics(am),
		api.WithAlertHub(hub),
	}
	if archive != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", archive.Health))
	}
	return api.NewAnalyticsEchoHandler(engine, l, opts...)
}

// ProvideHTTPServer creates the Echo server. /healthz and the metrics path
// are never rate limited.
func ProvideHTTPServer(cfg *config.Config, h *api.AnalyticsEchoHandler, limiter *ratelimit.Limiter, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequestThreshold),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, xhttp.WithMiddleware(httpmw.RateLimit(limiter, "/healthz", cfg.Metrics.Path)))
	}
	return xhttp.NewServer(h, opts...)
}

// RefreshJob runs a locked Refresh; the same lock guards POST /api/refresh.
type RefreshJob func(context.Context)

func ProvideRefreshJob(cfg *config.Config, engine *usecase.Engine, c cache.Service, l *applogger.Logger) RefreshJob {
	return scheduler.Locked(c, api.RefreshLockKey, cfg.Scheduler.LockTTL, l, func(ctx context.Context) error {
		res, err := engine.Refresh(ctx)
		if err != nil {
			return err
		}
		l.Info("Refresh completed",
			applogger.Int("keys", res.Keys),
			applogger.Int("trained", res.Trained),
			applogger.Int("alerts", len(res.Alerts)),
		)
		return nil
	})
}

// ProvideScheduler registers the nightly refresh and the limiter pruning.
// It returns nil when the scheduler is disabled.
func ProvideScheduler(cfg *config.Config, refresh RefreshJob, limiter *ratelimit.Limiter, l *applogger.Logger) (*scheduler.Runner, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	r := scheduler.New(l, context.Background())
	id, err := r.Add(cfg.Scheduler.RefreshSpec, refresh)
	if err != nil {
		return nil, err
	}
	if _, err := r.Add("0 */10 * * * *", func(context.Context) {
		if n := limiter.Prune(); n > 0 {
			l.Debug("Pruned idle rate limiters", applogger.Int("removed", n))
		}
	}); err != nil {
		return nil, err
	}
	l.Info("Refresh scheduled", applogger.String("spec", cfg.Scheduler.RefreshSpec), applogger.Time("next", r.Next(id)))
	return r, nil
}

// ProvideKafkaConsumer creates the observations consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(traceHook(), failureLogHook(l)))
	return consumer, nil
}

// traceHook tags every message with a trace id and its start time.
func traceHook() pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			id := pkgkafka.ExtractTraceID(km)
			if id == "" {
				id = uuid.NewString()
			}
			ctx = pkgkafka.WithTraceID(ctx, id)
			ctx = pkgkafka.WithStartTime(ctx, time.Now())
			return ctx, km, data, nil
		},
	}
}

func failureLogHook(l *applogger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			fields := []applogger.Field{
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.String("trace_id", pkgkafka.TraceID(ctx)),
				applogger.Error(err),
			}
			if start, ok := pkgkafka.StartTime(ctx); ok {
				fields = append(fields, applogger.Duration("took", time.Since(start)))
			}
			l.Warn("Observation message failed", fields...)
		},
	}
}

func ProvideObservationsHandler(cfg *config.Config, engine *usecase.Engine, m domrepo.Metrics, l *applogger.Logger) *usecase.KafkaObservationsHandler {
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.ObservationsTopic, engine, m, l)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	engine *usecase.Engine,
	srv *xhttp.Server,
	pipeline *mid.IngestPipeline,
	archive domrepo.ObservationArchive,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	runner *scheduler.Runner,
	refresh RefreshJob,
	hub *api.AlertHub,
	l *applogger.Logger,
) *server.App {
	c := server.Components{
		Engine:       engine,
		Server:       srv,
		Pipeline:     pipeline,
		Archive:      archive,
		WarmLoadDays: cfg.ClickHouse.WarmLoadDays,
		Scheduler:    runner,
		Hub:          hub,
	}
	if consumer != nil {
		c.Consumer = consumer
		c.Handler = kh
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.RunOnStart {
		c.RefreshOnStart = refresh
	}
	return server.New(c, l)
}
