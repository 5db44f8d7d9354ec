package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/handler"
	"github.com/iliyamo/scenario-steal/internal/logger"
	"github.com/iliyamo/scenario-steal/internal/metrics"
	"github.com/iliyamo/scenario-steal/internal/middleware"
	"github.com/iliyamo/scenario-steal/internal/queue"
	"github.com/iliyamo/scenario-steal/internal/router"
	"github.com/iliyamo/scenario-steal/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db, dialect); err != nil {
		return err
	}

	economy, err := config.LoadEconomy(cfg.EconomyFile)
	if err != nil {
		return err
	}
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Redis is optional: without it the limiter and the history cache
	// pass requests straight through.
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	switch {
	case err != nil:
		log.Warn("redis unavailable, rate limiting and history cache disabled", zap.Error(err))
	case rdb == nil:
		log.Info("redis disabled, rate limiting and history cache off")
	default:
		defer rdb.Close()
	}
	cache := middleware.NewHistoryCache(config.LoadCacheConfig(), rdb, log)

	var gateway service.Gateway = service.LogGateway{Log: log.Named("notify")}
	if cfg.RabbitURL != "" {
		gateway = queue.NewPublisher(cfg.RabbitURL, log)
	}

	engine := service.NewEngine(service.Deps{
		DB:          db,
		Dialect:     dialect,
		Economy:     economy,
		IDs:         node,
		Logger:      log,
		Metrics:     metrics.NewEngineMetrics(reg),
		Gateway:     gateway,
		Invalidator: cache,
	})
	engine.Dispatcher().MaxAttempts = cfg.OutboxMaxAttempts
	engine.Dispatcher().Timeout = cfg.OutboxDeliverTimeout

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Dispatcher().Run(ctx, cfg.OutboxInterval, cfg.OutboxBatch)
	}()
	go func() {
		defer wg.Done()
		engine.RunDeadlineSweeper(ctx, cfg.DeadlineSweepInterval, cfg.OutboxBatch)
	}()
	if cfg.RabbitURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.NotificationLog, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))

	scenarios := handler.NewScenarioHandler(engine)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)
	router.RegisterRoutes(e, db, reg)
	router.RegisterPublic(e, scenarios, cache)
	router.RegisterScenario(e, scenarios, cfg.JWTSecret, limiter)
	router.RegisterModeration(e, handler.NewModerationHandler(engine), cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(engine), cfg.JWTSecret)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("db", string(dialect)))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	wg.Wait()
	log.Info("shutdown complete")
	return err
}
