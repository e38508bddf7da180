package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dairybooth/dairyledger/internal/app"
	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/observability"
	"github.com/dairybooth/dairyledger/internal/platform/cache"
	"github.com/dairybooth/dairyledger/internal/platform/db"
	"github.com/dairybooth/dairyledger/internal/report"
	"github.com/dairybooth/dairyledger/jobs"
)

// queueingReplayer hands a replayed notification straight to the worker queue.
type queueingReplayer struct {
	dispatcher *notify.Dispatcher
	client     *jobs.Client
	logger     *slog.Logger
}

func (r queueingReplayer) Replay(ctx context.Context, id uuid.UUID) (bool, error) {
	replayed, err := r.dispatcher.Replay(ctx, id)
	if err != nil || !replayed {
		return replayed, err
	}
	if err := r.client.NotificationQueued(ctx, id); err != nil {
		r.logger.WarnContext(ctx, "enqueue replayed notification", slog.String("event_id", id.String()), slog.Any("error", err))
	}
	return true, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	calendar, err := cfg.Calendar()
	if err != nil {
		logger.Error("load business calendar", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.AppMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := cache.NewClient(cfg.Redis())
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(cfg.Redis().AsynqOpt())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	reportCache := report.NewCache(redisClient, cfg.ReportCacheTTL)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), ledger.Config{
		Convention:  cfg.SignConvention(),
		Calendar:    calendar,
		PhoneRegion: cfg.PhoneDefaultRegion,
	}, logger.With(slog.String("component", "ledger")))
	ledgerService.SetCacheInvalidator(reportCache)
	ledgerService.SetDispatchNotifier(jobClient)
	ledgerService.SetAppendObserver(metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	aggregator := report.NewAggregator(report.NewRepository(dbpool), ledgerService.Calculator(), calendar, reportCache,
		logger.With(slog.String("component", "report")))
	reportHandler := report.NewHandler(logger, aggregator, report.WithLanguage(cfg.NotifyLanguage))

	notifyStore := notify.NewRepository(dbpool)
	dispatcher := notify.NewDispatcher(notifyStore, cfg.Transport(logger), cfg.NotifyConfig(),
		notify.WithLogger(logger.With(slog.String("component", "notify"))))
	notifyHandler := notify.NewHandler(logger, notifyStore, queueingReplayer{dispatcher: dispatcher, client: jobClient, logger: logger})

	inspector := asynq.NewInspector(cfg.Redis().AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerHandler,
		ReportHandler: reportHandler,
		NotifyHandler: notifyHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
