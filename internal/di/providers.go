package di

import (
	"context"
	"fmt"
	"time"

	"ChartCache/internal/domain/repository"
	"ChartCache/internal/handler/api"
	internalrepo "ChartCache/internal/repository"
	"ChartCache/internal/service/ratelimit"
	"ChartCache/internal/service/stream"
	"ChartCache/internal/usecase"
	"ChartCache/pkg/cache"
	pkgch "ChartCache/pkg/clickhouse"
	"ChartCache/pkg/config"
	xhttp "ChartCache/pkg/http"
	pkgkafka "ChartCache/pkg/kafka"
	applogger "ChartCache/pkg/logger"
	"ChartCache/pkg/metrics"
	"ChartCache/pkg/server"
)

const connectTimeout = 10 * time.Second

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func baseResolution(cfg *config.Config) (int64, error) {
	res, err := repository.ParseTimeframe(cfg.Cache.BaseTimeframe)
	if err != nil {
		return 0, fmt.Errorf("cache.base_timeframe: %w", err)
	}
	return res, nil
}

// ProvideRegistry creates the symbol registry.
func ProvideRegistry(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *usecase.SymbolRegistry {
	return usecase.NewSymbolRegistry(
		usecase.WithMaxSymbols(cfg.Cache.MaxSymbols),
		usecase.WithMaxCacheSize(cfg.Cache.MaxCacheSize),
		usecase.WithDefaultWarmupInterval(cfg.Cache.WarmupInterval),
		usecase.WithMinWarmupInterval(cfg.Cache.MinWarmupInterval),
		usecase.WithAutoCleanup(cfg.Cache.AutoCleanup, cfg.Cache.CleanupInterval),
		usecase.WithLogger(log.With(applogger.String("component", "registry"))),
		usecase.WithMetrics(m),
	)
}

func needsClickHouse(cfg *config.Config) bool {
	return cfg.Source.Type == "clickhouse" || cfg.ClickHouse.PersistIngested
}

func clickHouseTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
}

// ProvideClickHouseClient connects to ClickHouse and ensures the bars
// table. It returns nil when nothing reads or writes ClickHouse.
func ProvideClickHouseClient(cfg *config.Config, log *applogger.Logger) (*pkgch.Client, func(), error) {
	if !needsClickHouse(cfg) {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.BarsSchema(clickHouseTable(cfg))...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	log.Info("clickhouse ready", applogger.String("table", clickHouseTable(cfg)))

	return client, func() {
		if err := client.Close(); err != nil {
			log.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideCHBarSource builds the ClickHouse bar table adapter, nil without a
// client.
func ProvideCHBarSource(cfg *config.Config, client *pkgch.Client) (*internalrepo.CHBarSource, error) {
	if client == nil {
		return nil, nil
	}
	tableRes, err := repository.ParseTimeframe(cfg.ClickHouse.TableTimeframe)
	if err != nil {
		return nil, fmt.Errorf("clickhouse.table_timeframe: %w", err)
	}
	return internalrepo.NewCHBarSource(client.DB(), clickHouseTable(cfg), tableRes), nil
}

// ProvideBarSource selects the history source by source.type. A nil
// result means symbols start empty.
func ProvideBarSource(cfg *config.Config, ch *internalrepo.CHBarSource) repository.BarSource {
	switch cfg.Source.Type {
	case "clickhouse":
		if ch != nil {
			return ch
		}
	case "http":
		opts := []xhttp.ClientOption{
			xhttp.WithBaseURL(cfg.Source.BaseURL),
			xhttp.WithTimeout(cfg.Source.Timeout),
			xhttp.WithRetry(cfg.Source.Retries, time.Second),
		}
		if cfg.Source.APIKey != "" {
			opts = append(opts, xhttp.WithHeader("X-API-Key", cfg.Source.APIKey))
		}
		return internalrepo.NewHTTPBarSource(xhttp.NewClient(opts...))
	}
	return nil
}

// ProvideBarSink returns the ClickHouse table when ingested bars are
// persisted, nil otherwise.
func ProvideBarSink(cfg *config.Config, ch *internalrepo.CHBarSource) repository.BarSink {
	if !cfg.ClickHouse.PersistIngested || ch == nil {
		return nil
	}
	return ch
}

// ProvideSnapshotCache returns Redis when enabled and an in-process cache
// otherwise.
func ProvideSnapshotCache(cfg *config.Config, log *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSymbols * 4)), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

func ProvideSnapshotStore(c cache.Service) repository.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(c)
}

// ProvideKafkaProducer creates the producer for aggregated updates, nil when
// kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideUpdatePublisher wraps the producer; the publisher owns and closes it.
func ProvideUpdatePublisher(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) (repository.UpdatePublisher, func()) {
	if producer == nil {
		return nil, func() {}
	}
	pub := internalrepo.NewKafkaUpdatePublisher(producer, cfg.Kafka.UpdatesTopic)
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
}

// ProvideKafkaConsumer creates the bars consumer, nil when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
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
		pkgkafka.WithConsumerLogger(log.With(applogger.String("component", "kafka"))),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	return consumer, nil
}

func ProvideBarApplier(
	registry *usecase.SymbolRegistry,
	pub repository.UpdatePublisher,
	sink repository.BarSink,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.BarApplier {
	return usecase.NewBarApplier(registry, pub, sink, m, log.With(applogger.String("component", "applier")))
}

func ProvideBarsIngestHandler(cfg *config.Config, applier *usecase.BarApplier, m repository.Metrics) *usecase.BarsIngestHandler {
	return usecase.NewBarsIngestHandler(cfg.Kafka.BarsTopic, applier, m)
}

// ProvideStreamCollector builds the WebSocket collector, nil when the
// stream is disabled.
func ProvideStreamCollector(cfg *config.Config, applier *usecase.BarApplier, m repository.Metrics, log *applogger.Logger) *usecase.StreamCollector {
	if !cfg.Stream.Enabled {
		return nil
	}
	l := log.With(applogger.String("component", "stream"))
	client := stream.New(stream.Config{
		URL:            cfg.Stream.URL,
		APIKey:         cfg.Stream.Token,
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Stream.Timeframe,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		MaxReconnects:  cfg.Stream.MaxReconnects,
		PingInterval:   cfg.Stream.PingInterval,
	}, l)
	return usecase.NewStreamCollector(client, applier, m, l)
}

func ProvideHistoryLoader(
	cfg *config.Config,
	registry *usecase.SymbolRegistry,
	source repository.BarSource,
	snapshots repository.SnapshotStore,
	m repository.Metrics,
	log *applogger.Logger,
) (*usecase.HistoryLoader, error) {
	baseRes, err := baseResolution(cfg)
	if err != nil {
		return nil, err
	}
	warmup := make([]int64, 0, len(cfg.Cache.Warmup))
	for _, tf := range cfg.Cache.Warmup {
		res, err := repository.ParseTimeframe(tf)
		if err != nil {
			return nil, fmt.Errorf("cache.warmup: %w", err)
		}
		warmup = append(warmup, res)
	}
	return usecase.NewHistoryLoader(registry, source, snapshots, usecase.LoaderConfig{
		BaseRes:        baseRes,
		Lookback:       cfg.Source.Lookback,
		Limit:          cfg.Source.Limit,
		Timeout:        cfg.Source.Timeout,
		SnapshotTTL:    cfg.Cache.SnapshotTTL,
		Warmup:         warmup,
		WarmupInterval: cfg.Cache.WarmupInterval,
	}, m, log.With(applogger.String("component", "loader"))), nil
}

func ProvideChartsUseCase(cfg *config.Config, registry *usecase.SymbolRegistry, loader *usecase.HistoryLoader, log *applogger.Logger) *usecase.ChartsUseCase {
	return usecase.NewChartsUseCase(registry, loader, cfg.Cache.LazyLoad, log)
}

func ProvideWarmupLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.WarmupBurst, cfg.Server.WarmupRate)
}

func ProvideChartsHandler(log *applogger.Logger, charts *usecase.ChartsUseCase, rl *ratelimit.Limiter) *api.ChartsEchoHandler {
	return api.NewChartsEchoHandler(log.With(applogger.String("component", "http")), charts, rl)
}

func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, charts *api.ChartsEchoHandler) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(log, []xhttp.Handler{charts},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(path),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	registry *usecase.SymbolRegistry,
	loader *usecase.HistoryLoader,
	collector *usecase.StreamCollector,
	consumer *pkgkafka.Consumer,
	ingest *usecase.BarsIngestHandler,
	httpServer *xhttp.Server,
) *server.App {
	var kh pkgkafka.MessageHandler
	if consumer != nil {
		kh = ingest
	}
	return server.New(cfg, log, registry, loader, collector, consumer, kh, httpServer)
}
