package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/syncer"
	postasks "github.com/odyssey-erp/odyssey-pos/jobs"
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

	db, err := localdb.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		logger.Error("open local queue", slog.String("path", cfg.LocalDBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("local queue close", slog.Any("error", err))
		}
	}()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	taskClient, err := postasks.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	queue := offline.NewQueue(offline.NewRepository(db), logger)
	client := remote.NewClient(cfg.BackendURL, cfg.BackendTimeout)

	monitor := netstatus.NewMonitor(client, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
	monitor.ForceOffline(cfg.ForceOffline)
	go monitor.Run(ctx)

	metrics := observability.NewMetrics()
	engine, err := syncer.New(syncer.Config{
		Queue:     queue,
		Submitter: client,
		Network:   monitor,
		Locker:    syncer.NewRedisLocker(redisClient, cfg.SyncLockTTL, logger),
		Scheduler: taskClient,
		LeaseTTL:  cfg.SyncLockTTL,
		Backoff:   syncer.Backoff{Base: cfg.SyncBackoffBase, Max: cfg.SyncBackoffMax},
		Metrics:   metrics.Sync(),
		Logger:    logger,
	})
	if err != nil {
		logger.Error("init sync engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer engine.Close()

	syncJob := postasks.NewSyncJob(engine, queue, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	sweepTask, err := postasks.NewSyncSweepTask()
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := postasks.NewWorker(postasks.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []postasks.TaskHandler{
			{Type: postasks.TaskPOSSyncStore, Handler: syncJob.HandleStore},
			{Type: postasks.TaskPOSSyncSweep, Handler: syncJob.HandleSweep},
		},
		Cron: []postasks.CronRegistration{
			{Spec: cfg.SyncSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Queue(postasks.QueueSync)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	// The worker serves only health, queue stats and metrics.
	opsCfg := *cfg
	opsCfg.AppAddr = cfg.WorkerAddr
	server := app.NewServer(&opsCfg, app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     &opsCfg,
		Metrics:    metrics,
		JobHandler: postasks.NewHandler(inspector, logger),
		Ready: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}))
	go func() {
		logger.Info("starting worker ops server", slog.String("addr", opsCfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
