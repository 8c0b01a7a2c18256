package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"payflow.app/resolver/common/id"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/common/otel"
	"payflow.app/resolver/core/config"
	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/app"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/lock"
	"payflow.app/resolver/internal/metrics"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
	"payflow.app/resolver/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, "worker")
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "payflow worker starting",
		"env", cfg.Env,
		"worker_id", cfg.WorkerID,
		"concurrency", cfg.Queue.Concurrency,
		"decision_mode", cfg.Decision.Mode)

	// Different node ID than server
	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisClient, err := app.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "prefix", cfg.Redis.Prefix)

	metrics.Register()

	router, err := app.NewDecisionRouter(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create decision router", "error", err)
		os.Exit(1)
	}

	issueQueue := app.NewQueue(redisClient, cfg, queue.IssueQueue)

	processor := worker.NewProcessor(
		store.NewStores(database.Querier()),
		&workerTxRunnerAdapter{db: database},
		router,
		lock.NewRedisLock(redisClient, cfg.Redis.Prefix),
		audit.NewRedisSink(redisClient, cfg.Redis.Prefix),
		worker.ProcessorConfig{
			LockTTL:                  cfg.Lock.TTL,
			RulesConfidenceThreshold: cfg.Decision.RulesConfidenceThreshold,
		},
	)

	pool := worker.NewPool(issueQueue, worker.IssueHandler(processor, cfg.WorkerID), worker.PoolConfig{
		Name:         issueQueue.Name(),
		WorkerID:     cfg.WorkerID,
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
	})
	reclaimer := worker.NewReclaimer(issueQueue, cfg.Queue.ReclaimInterval)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(runCtx)
	}()
	go reclaimer.Run(runCtx)

	metricsServer := app.ServeMetrics(ctx, cfg.MetricsPort)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-poolDone:
		slog.ErrorContext(ctx, "worker pool exited unexpectedly", "error", err)
	}

	slog.InfoContext(ctx, "shutting down worker...")

	// Stop reclaimer first (quick), then drain in-flight jobs.
	reclaimer.Stop()
	if err := pool.Stop(cfg.Queue.ShutdownTimeout); err != nil {
		slog.WarnContext(ctx, "shutdown timeout exceeded", "error", err)
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		slog.WarnContext(ctx, "metrics server shutdown error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// workerTxRunnerAdapter bridges db.DB to worker.TxRunner.
type workerTxRunnerAdapter struct {
	db *db.DB
}

func (a *workerTxRunnerAdapter) WithTx(ctx context.Context, fn func(stores worker.StoreProvider) error) error {
	return a.db.WithTx(ctx, func(q db.Querier) error {
		stores := store.NewStores(q)
		return fn(stores)
	})
}
