package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/history"
	poshttp "github.com/odyssey-erp/odyssey-pos/internal/pos/http"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/syncer"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping agent startup")
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
	defer closeDB(db, logger)

	queue := offline.NewQueue(offline.NewRepository(db), logger)
	client := remote.NewClient(cfg.BackendURL, cfg.BackendTimeout)

	monitor := netstatus.NewMonitor(client, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
	monitor.ForceOffline(cfg.ForceOffline)
	transitions := monitor.Subscribe()

	metrics := observability.NewMetrics()

	syncCfg := syncer.Config{
		Queue:     queue,
		Submitter: client,
		Network:   monitor,
		LeaseTTL:  cfg.SyncLockTTL,
		Backoff:   syncer.Backoff{Base: cfg.SyncBackoffBase, Max: cfg.SyncBackoffMax},
		Metrics:   metrics.Sync(),
		Logger:    logger,
	}

	var jobHandler *jobs.Handler
	if cfg.SyncDistributed {
		redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer closeRedis(redisClient, logger)

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()

		inspector := asynq.NewInspector(redisOpts)
		defer func() { _ = inspector.Close() }()

		syncCfg.Locker = syncer.NewRedisLocker(redisClient, cfg.SyncLockTTL, logger)
		syncCfg.Scheduler = jobClient
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	engine, err := syncer.New(syncCfg)
	if err != nil {
		logger.Error("init sync engine", slog.Any("error", err))
		os.Exit(1)
	}

	posHandler := poshttp.NewHandler(poshttp.Config{
		Queue:         queue,
		Submitter:     client,
		Network:       monitor,
		Sync:          engine,
		History:       history.NewReconciler(queue, client, logger),
		Formatter:     totals.NewFormatter(cfg.ReceiptLocale, cfg.ReceiptCurrency),
		Logger:        logger,
		SubmitTimeout: cfg.CheckoutTimeout,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		Handlers:   []app.Mounter{posHandler},
		JobHandler: jobHandler,
		Ready:      db.PingContext,
	})
	server := app.NewServer(cfg, router)

	// The first successful probe emits an online transition, which flushes
	// whatever the previous run left in the queue.
	go engine.Run(ctx, transitions, cfg.SyncSweepInterval)
	go monitor.Run(ctx)

	go func() {
		logger.Info("starting pos agent", slog.String("addr", cfg.AppAddr), slog.Bool("distributed", cfg.SyncDistributed))
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
	engine.Close()
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("local queue close", slog.Any("error", err))
	}
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
