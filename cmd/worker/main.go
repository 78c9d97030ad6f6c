package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := db.MigrateUp(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledger := app.NewLedger(cfg, app.LedgerDeps{
		Pool:    pool,
		Redis:   redisClient,
		Logger:  logger,
		Metrics: observability.NewLedgerMetrics(metrics.Registerer()),
	})
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	integrityJob := jobs.NewGLIntegrityJob(ledger.Journal, logger, jobMetrics)
	valuationJob := jobs.NewValuationJob(ledger.Inventory, logger, jobMetrics)
	sweepJob := jobs.NewZeroStockSweepJob(ledger.Inventory, logger, jobMetrics)

	now := time.Now().UTC()
	integrityTask, err := jobs.NewGLIntegrityTask(now)
	if err != nil {
		logger.Error("build gl integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	valuationTask, err := jobs.NewValuationTask()
	if err != nil {
		logger.Error("build valuation task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewZeroStockSweepTask(now)
	if err != nil {
		logger.Error("build zero stock sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskInventoryValuation, Handler: valuationJob.Handle},
			{Type: jobs.TaskZeroStockSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.GLIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ValuationCron, Task: valuationTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ZeroStockSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Metrics:     metrics,
		JobsHandler: jobs.NewHandler(inspector, logger),
		Checks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis":    cache.Check(redisClient),
		},
	})
	server := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
