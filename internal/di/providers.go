package di

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"KronosCast/internal/domain/repository"
	"KronosCast/internal/handler/api"
	"KronosCast/internal/handler/ws"
	internalrepo "KronosCast/internal/repository"
	"KronosCast/internal/service/ratelimit"
	"KronosCast/internal/services/kronos"
	"KronosCast/internal/services/normalizer"
	"KronosCast/internal/usecase"
	"KronosCast/pkg/cache"
	pkgch "KronosCast/pkg/clickhouse"
	"KronosCast/pkg/config"
	xhttp "KronosCast/pkg/http"
	pkgkafka "KronosCast/pkg/kafka"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/metrics"
	"KronosCast/pkg/postgres"
	"KronosCast/pkg/queue"
	"KronosCast/pkg/server"
)

const initTimeout = 10 * time.Second

// InfraSet builds clients for external systems. Disabled systems yield nil.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvidePostgresPool,
	ProvideRedisClient,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
)

// DomainSet builds repositories and use cases.
var DomainSet = wire.NewSet(
	ProvideNormalizer,
	ProvidePredictionStore,
	ProvideFeedSource,
	ProvideBarWriter,
	ProvideHub,
	ProvideEventPublisher,
	ProvideModelManager,
	ProvidePredictionPipeline,
	ProvideAccuracyEvaluator,
	ProvidePredictionService,
	ProvideStockUseCase,
	ProvideEvaluationQueue,
	ProvideEvaluationScheduler,
	ProvideKafkaHandlers,
)

// EdgeSet builds the HTTP surface and the application.
var EdgeSet = wire.NewSet(
	ProvideRateLimiter,
	ProvideHTTPHandler,
	ProvideApp,
)

// ProvideLogger creates the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(nil)
}

// ProvideClickHouseClient creates a ClickHouse client when the kline feed or bar ingest needs one.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Feed.Source != "clickhouse" && cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
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
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.KlineSchema(client.Database())); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvidePostgresPool connects to Postgres when it backs the prediction store.
func ProvidePostgresPool(cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Storage.Backend != "postgres" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return pool, nil
}

// ProvideRedisClient connects to Redis when caching or the evaluation queue is enabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + strconv.Itoa(port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchBytes:   cfg.Kafka.Producer.BatchBytes,
		Linger:       cfg.Kafka.Producer.Linger,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		ReadTimeout:  cfg.Kafka.Producer.ReadTimeout,
		Async:        cfg.Kafka.Producer.Async,
	}, pkgkafka.WithProducerMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cfg.Kafka.Consumer.GroupID,
		Workers:    cfg.Kafka.Consumer.Workers,
		BufferSize: cfg.Kafka.Consumer.BufferSize,
		RetryMax:   cfg.Kafka.Consumer.RetryMax,
		BackoffMin: cfg.Kafka.Consumer.BackoffMin,
		BackoffMax: cfg.Kafka.Consumer.BackoffMax,
		DLQTopic:   cfg.Kafka.Consumer.DLQTopic,
		MinBytes:   cfg.Kafka.Consumer.MinBytes,
		MaxBytes:   cfg.Kafka.Consumer.MaxBytes,
	},
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerHook(pkgkafka.NewLoggingHook(l, 2*time.Second)),
		pkgkafka.WithConsumerMetrics(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideNormalizer(l *logger.Logger) normalizer.Normalizer {
	return normalizer.New(l)
}

// ProvidePredictionStore selects and initializes the record store.
func ProvidePredictionStore(pool *postgres.Pool, l *logger.Logger) (repository.PredictionStore, error) {
	var store repository.PredictionStore = internalrepo.NewMemoryPredictionStore()
	if pool != nil {
		store = internalrepo.NewPostgresPredictionStore(pool, l)
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("prediction store init: %w", err)
	}
	return store, nil
}

// ProvideFeedSource selects the kline source and wraps it in the layered cache when enabled.
func ProvideFeedSource(cfg *config.Config, ch *pkgch.Client, rdb *redis.Client, l *logger.Logger) repository.FeedSource {
	var src repository.FeedSource
	switch cfg.Feed.Source {
	case "http":
		src = internalrepo.NewHTTPKlineSource(cfg.Feed.BaseURL, cfg.Feed.Timeout)
	default:
		src = internalrepo.NewCHKlineSource(ch, l)
	}
	if !cfg.Feed.Cache.Enabled || rdb == nil {
		return src
	}
	layered := cache.NewLayeredCache(
		cache.NewRedisCacheFromClient(rdb, cfg.Redis.Prefix),
		cache.WithLayeredMemory(cfg.Feed.Cache.MemorySize, time.Minute),
	)
	return internalrepo.NewCachedFeedSource(src, layered, cfg.Feed.Cache.TTL, l)
}

// ProvideBarWriter returns the ClickHouse daily bar writer, or nil without ClickHouse.
func ProvideBarWriter(ch *pkgch.Client) repository.BarWriter {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHBarWriter(ch)
}

func ProvideHub(cfg *config.Config, l *logger.Logger) *ws.Hub {
	if !cfg.WebSocket.Enabled {
		return nil
	}
	return ws.NewHub(cfg.WebSocket.Buffer, l)
}

// ProvideEventPublisher fans lifecycle events out to Kafka and websocket subscribers.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, hub *ws.Hub) repository.EventPublisher {
	var pubs internalrepo.FanoutPublisher
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events))
	}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	if len(pubs) == 0 {
		return internalrepo.NopPublisher{}
	}
	return pubs
}

func ProvideModelManager(cfg *config.Config, l *logger.Logger) *kronos.ModelManager {
	return kronos.NewModelManager(cfg, l)
}

func ProvidePredictionPipeline(
	store repository.PredictionStore,
	feed repository.FeedSource,
	norm normalizer.Normalizer,
	models *kronos.ModelManager,
	events repository.EventPublisher,
	rec *metrics.Recorder,
	l *logger.Logger,
) *usecase.PredictionPipeline {
	return usecase.NewPredictionPipeline(store, feed, norm, models, events, rec, l)
}

func ProvideAccuracyEvaluator(feed repository.FeedSource, norm normalizer.Normalizer, rec *metrics.Recorder, l *logger.Logger) *usecase.AccuracyEvaluator {
	return usecase.NewAccuracyEvaluator(feed, norm, rec, l)
}

func ProvidePredictionService(cfg *config.Config, store repository.PredictionStore, ev *usecase.AccuracyEvaluator, events repository.EventPublisher, l *logger.Logger) *usecase.PredictionService {
	return usecase.NewPredictionService(store, ev, events, l).WithMaxAttempts(cfg.Evaluation.MaxAttempts)
}

func ProvideStockUseCase(feed repository.FeedSource, norm normalizer.Normalizer) *usecase.StockUseCase {
	return usecase.NewStockUseCase(feed, norm)
}

// ProvideEvaluationQueue builds the Redis job queue running accuracy evaluations.
func ProvideEvaluationQueue(cfg *config.Config, rdb *redis.Client, svc *usecase.PredictionService, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Evaluation.Enabled || rdb == nil {
		return nil
	}
	q := queue.NewRedisQueue(rdb, queue.Config{
		Prefix:     cfg.Redis.Prefix + ":queue:evaluations",
		Workers:    cfg.Evaluation.Workers,
		RetryLimit: cfg.Evaluation.RetryLimit,
		RetryDelay: cfg.Evaluation.RetryDelay,
	}, l)
	q.Register(usecase.NewEvaluationJob(svc, l))
	return q
}

// ProvideEvaluationScheduler wires the cron sweep to the queue and a Redis lock.
func ProvideEvaluationScheduler(cfg *config.Config, q *queue.RedisQueue, rdb *redis.Client, svc *usecase.PredictionService, l *logger.Logger) *usecase.EvaluationScheduler {
	if !cfg.Evaluation.Enabled || q == nil {
		return nil
	}
	lock := cache.NewRedisCacheFromClient(rdb, cfg.Redis.Prefix)
	return usecase.NewEvaluationScheduler(cfg.Evaluation.Schedule, cfg.Evaluation.BatchSize, svc, q, lock, l)
}

// ProvideKafkaHandlers registers the forecast request and bar ingest topics.
func ProvideKafkaHandlers(
	cfg *config.Config,
	pipeline *usecase.PredictionPipeline,
	writer repository.BarWriter,
	feed repository.FeedSource,
	rec *metrics.Recorder,
	l *logger.Logger,
) ([]pkgkafka.MessageHandler, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	handlers := []pkgkafka.MessageHandler{
		usecase.NewKafkaPredictHandler(cfg.Kafka.Topics.Requests, pipeline, rec, l),
	}
	if writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := writer.Init(ctx); err != nil {
			return nil, fmt.Errorf("bar writer init: %w", err)
		}
		inv, _ := feed.(usecase.FeedInvalidator)
		handlers = append(handlers, usecase.NewKafkaBarsHandler(cfg.Kafka.Topics.Bars, writer, inv, rec, l))
	}
	return handlers, nil
}

// ProvideRateLimiter returns nil when throttling is disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

// ProvideHTTPHandler assembles every route group.
func ProvideHTTPHandler(
	l *logger.Logger,
	pipeline *usecase.PredictionPipeline,
	svc *usecase.PredictionService,
	stock *usecase.StockUseCase,
	models *kronos.ModelManager,
	store repository.PredictionStore,
	limiter *ratelimit.Limiter,
	hub *ws.Hub,
) xhttp.Handler {
	handlers := []xhttp.Handler{
		api.NewPredictionsEchoHandler(l, pipeline, svc, limiter),
		api.NewModelsEchoHandler(l, models),
		api.NewStockEchoHandler(l, stock),
		api.NewHealthEchoHandler(l, map[string]api.HealthChecker{
			"store": store,
			"model": models,
			"feed":  stock,
		}),
	}
	if hub != nil {
		handlers = append(handlers, hub)
	}
	return api.NewRouter(handlers...)
}

// ProvideApp creates the application server and attaches the log collector.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	handler xhttp.Handler,
	rec *metrics.Recorder,
	models *kronos.ModelManager,
	store repository.PredictionStore,
	events repository.EventPublisher,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kafkaHandlers []pkgkafka.MessageHandler,
	q *queue.RedisQueue,
	scheduler *usecase.EvaluationScheduler,
	limiter *ratelimit.Limiter,
	ch *pkgch.Client,
	pool *postgres.Pool,
	rdb *redis.Client,
) *server.App {
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			Topic:          cfg.Logging.Collector.Topic,
			Service:        "kronoscast",
			Publisher:      producer,
		})
	}
	return server.New(cfg, l, server.Deps{
		Handler:       handler,
		Metrics:       rec,
		Models:        models,
		Store:         store,
		Events:        events,
		Consumer:      consumer,
		KafkaHandlers: kafkaHandlers,
		Queue:         q,
		Scheduler:     scheduler,
		RateLimiter:   limiter,
		ClickHouse:    ch,
		Postgres:      pool,
		Redis:         rdb,
	})
}
