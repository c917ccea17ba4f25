package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/service/ratelimit"
	"KronosCast/internal/services/kronos"
	"KronosCast/internal/usecase"
	pkgch "KronosCast/pkg/clickhouse"
	"KronosCast/pkg/config"
	xhttp "KronosCast/pkg/http"
	pkgkafka "KronosCast/pkg/kafka"
	applogger "KronosCast/pkg/logger"
	"KronosCast/pkg/metrics"
	"KronosCast/pkg/postgres"
	"KronosCast/pkg/queue"
)

const modelLoadTimeout = 2 * time.Minute

// Deps are the long-lived components the App starts and stops. Optional
// components are nil when disabled in config.
type Deps struct {
	Handler       xhttp.Handler
	Metrics       *metrics.Recorder
	Models        *kronos.ModelManager
	Store         domrepo.PredictionStore
	Events        domrepo.EventPublisher
	Consumer      *pkgkafka.Consumer
	KafkaHandlers []pkgkafka.MessageHandler
	Queue         *queue.RedisQueue
	Scheduler     *usecase.EvaluationScheduler
	RateLimiter   *ratelimit.Limiter
	ClickHouse    *pkgch.Client
	Postgres      *postgres.Pool
	Redis         *redis.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	deps       Deps
	httpServer *xhttp.Server
	stopBg     context.CancelFunc
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, deps Deps) *App {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log),
	}
	if cfg.Server.SlowThreshold > 0 {
		opts = append(opts, xhttp.WithSlowRequest(cfg.Server.SlowThreshold))
	}
	if deps.Metrics != nil {
		opts = append(opts, xhttp.WithMetrics(deps.Metrics))
	}
	return &App{
		cfg:        cfg,
		log:        log,
		deps:       deps,
		httpServer: xhttp.NewServer(deps.Handler, opts...),
	}
}

// Server exposes the HTTP server, mainly for tests.
func (a *App) Server() *xhttp.Server { return a.httpServer }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start brings up background workers and the HTTP server without blocking.
func (a *App) Start(ctx context.Context) error {
	if name := a.cfg.Kronos.DefaultModel; name != "" && a.deps.Models != nil {
		lctx, cancel := context.WithTimeout(ctx, modelLoadTimeout)
		if err := a.deps.Models.Load(lctx, name); err != nil {
			// predictions fail with AdapterError until a model is loaded through the API
			a.log.Warn("default model load failed", applogger.String("model", name), applogger.Error(err))
		}
		cancel()
	}

	if a.deps.Queue != nil {
		if err := a.deps.Queue.Start(); err != nil {
			a.log.Error("evaluation queue start error", applogger.Error(err))
			return err
		}
	}

	if a.deps.Scheduler != nil {
		if err := a.deps.Scheduler.Start(); err != nil {
			a.log.Error("evaluation scheduler start error", applogger.Error(err))
			return err
		}
	}

	bgCtx, stopBg := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBg = stopBg
	if a.deps.RateLimiter != nil {
		go a.deps.RateLimiter.PruneEvery(bgCtx, a.cfg.RateLimit.PruneInterval, func(n int) {
			a.log.Debug("rate limiter pruned", applogger.Int("buckets", n))
		})
	}

	if a.deps.Consumer != nil && len(a.deps.KafkaHandlers) > 0 {
		topics := make([]string, 0, len(a.deps.KafkaHandlers))
		for _, h := range a.deps.KafkaHandlers {
			a.deps.Consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.deps.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	return nil
}

// Shutdown stops intake first, then workers, then closes infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.stopBg != nil {
		a.stopBg()
	}
	if a.deps.Consumer != nil {
		if err := a.deps.Consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.deps.Scheduler != nil {
		a.deps.Scheduler.Stop()
	}
	if a.deps.Queue != nil {
		if err := a.deps.Queue.Stop(shutdownCtx); err != nil {
			a.log.Warn("evaluation queue stop error", applogger.Error(err))
		}
	}

	// the collector publishes through the producer owned by Events
	a.log.RemoveCollector()
	if a.deps.Events != nil {
		if err := a.deps.Events.Close(); err != nil {
			a.log.Warn("event publisher close error", applogger.Error(err))
		}
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.Close(); err != nil {
			a.log.Warn("prediction store close error", applogger.Error(err))
		}
	}
	if a.deps.Postgres != nil {
		a.deps.Postgres.Close()
	}
	if a.deps.ClickHouse != nil {
		if err := a.deps.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.deps.Redis != nil {
		if err := a.deps.Redis.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
