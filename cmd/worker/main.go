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
	_ "time/tzdata"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/dairybooth/dairyledger/internal/app"
	jobmetrics "github.com/dairybooth/dairyledger/internal/jobs"
	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/observability"
	"github.com/dairybooth/dairyledger/internal/platform/cache"
	"github.com/dairybooth/dairyledger/internal/platform/db"
	"github.com/dairybooth/dairyledger/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	calendar, err := cfg.Calendar()
	if err != nil {
		logger.Error("load business calendar", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
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
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	notifyStore := notify.NewRepository(pool)
	transport := cfg.Transport(logger)
	if _, ok := transport.(notify.LogTransport); ok {
		logger.Warn("whatsapp not configured, notifications are only logged")
	}
	notifyCfg := cfg.NotifyConfig()
	notifyLogger := logger.With(slog.String("component", "notify"))
	dispatcher := notify.NewDispatcher(notifyStore, transport, notifyCfg,
		notify.WithLogger(notifyLogger),
		notify.WithMetrics(jobMetrics))
	sweeper := notify.NewSweeper(notifyStore, redislock.New(redisClient), notifyCfg, notifyLogger, jobMetrics)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), ledger.Config{
		Convention:  cfg.SignConvention(),
		Calendar:    calendar,
		PhoneRegion: cfg.PhoneDefaultRegion,
	}, logger.With(slog.String("component", "ledger")))

	drainTask, err := jobs.NewNotifyDrainTask(0)
	if err != nil {
		logger.Error("build drain task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewNotifySweepTask()
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask()
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    calendar.Location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyDispatch, Handler: jobs.NewNotifyDispatchJob(dispatcher, logger, jobMetrics).Handle},
			{Type: jobs.TaskNotifySweep, Handler: jobs.NewNotifySweepJob(sweeper, logger, jobMetrics).Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: jobs.NewLedgerIntegrityJob(ledgerService, logger, jobMetrics).Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "* * * * *", Task: drainTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Timeout(50 * time.Second)}},
			{Spec: "* * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: "30 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
