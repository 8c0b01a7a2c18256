package main

import (
	"context"
	"log/slog"
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
	"payflow.app/resolver/internal/maintenance"
	"payflow.app/resolver/internal/metrics"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
	"payflow.app/resolver/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeScheduler)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, "scheduler")
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "payflow scheduler starting", "env", cfg.Env, "worker_id", cfg.WorkerID)

	if err := id.Init(id.NodeScheduler); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisClient, err := app.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	metrics.Register()

	maintenanceQueue := app.NewQueue(redisClient, cfg, queue.MaintenanceQueue)

	scheduler, err := maintenance.NewScheduler(maintenanceQueue, maintenance.ScheduleFromConfig(cfg.Maintenance))
	if err != nil {
		slog.ErrorContext(ctx, "invalid maintenance schedule", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Querier())
	jobs := maintenance.NewJobs(
		stores.Archive(),
		stores.Partitions(),
		audit.NewRedisSink(redisClient, cfg.Redis.Prefix),
		maintenance.JobsConfigFrom(cfg.Maintenance),
	)

	// One job at a time: archive and purge must not compete for the same rows.
	pool := worker.NewPool(maintenanceQueue, maintenance.Handler(jobs), worker.PoolConfig{
		Name:         maintenanceQueue.Name(),
		WorkerID:     cfg.WorkerID,
		Concurrency:  1,
		PollInterval: cfg.Queue.PollInterval,
	})
	reclaimer := worker.NewReclaimer(maintenanceQueue, cfg.Queue.ReclaimInterval)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(runCtx)
	}()
	go reclaimer.Run(runCtx)
	scheduler.Start()

	metricsServer := app.ServeMetrics(ctx, cfg.MetricsPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-poolDone:
		slog.ErrorContext(ctx, "maintenance pool exited unexpectedly", "error", err)
	}

	slog.InfoContext(ctx, "shutting down scheduler...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ShutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	reclaimer.Stop()
	if err := pool.Stop(cfg.Queue.ShutdownTimeout); err != nil {
		slog.WarnContext(ctx, "shutdown timeout exceeded", "error", err)
	}
	cancelRun()

	_ = metricsServer.Shutdown(shutdownCtx)
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "scheduler shutdown complete")
}
