// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batch-queue/internal/config"
	"batch-queue/internal/domain"
	"batch-queue/internal/infra/etcd"
	http_infra "batch-queue/internal/infra/http"
	shell_infra "batch-queue/internal/infra/shell"
	"batch-queue/internal/scheduler"
	"batch-queue/internal/tracing"
	"batch-queue/internal/usecase"
	"batch-queue/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Init logger, config and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tracerShutdown, err := tracing.InitTracer("batch-queue-worker", cfg.TraceOutput)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	workerID := uuid.New().String()
	logger.Info("starting worker node", "worker_id", workerID, "queues", cfg.Queues)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Init etcd client
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()

	// 4. Register this worker in etcd
	registry := worker.NewRegistry(etcdClient, logger)
	regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
	defer regCancel()
	hostname, _ := os.Hostname()
	info := domain.WorkerInfo{ID: workerID, Hostname: hostname, Queues: cfg.Queues, StartedAt: time.Now().UTC()}
	if err := registry.Register(regCtx, info, cfg.WorkerLeaseTTL); err != nil {
		log.Fatalf("Failed to register worker: %v", err)
	}
	defer func() {
		deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer deregCancel()
		if err := registry.Deregister(deregCtx); err != nil {
			logger.Error("failed to deregister worker", "error", err)
		}
	}()

	// 5. Instantiate stores, services and executors
	sets := etcd.NewEtcdSetStore(etcdClient, logger)
	jobRepo := etcd.NewEtcdJobRepository(etcdClient, logger)
	batchRepo := etcd.NewEtcdBatchRepository(etcdClient, logger)
	queue := etcd.NewEtcdQueue(etcdClient, logger)
	locker := etcd.NewEtcdLocker(etcdClient)

	jobService := usecase.NewJobService(jobRepo, sets, queue, usecase.JobDefaults{
		TTL:       cfg.DefaultJobTTL,
		ResultTTL: cfg.DefaultResultTTL,
	}, logger)
	maintenance := usecase.NewMaintenanceService(sets, batchRepo, jobRepo, cfg.MaintenanceConcurrency, logger)

	executors := map[domain.ExecutorType]domain.TaskExecutor{
		domain.ExecutorTypeHTTP:  http_infra.NewHttpTaskExecutor(),
		domain.ExecutorTypeShell: shell_infra.NewShellTaskExecutor(logger),
	}

	w := worker.NewWorker(workerID, cfg.Queues, queue, jobService, maintenance, locker, executors, logger,
		worker.WithPollInterval(cfg.PollInterval))

	// 6. Schedule registry maintenance
	cronScheduler := scheduler.NewCronScheduler(logger)
	if err := cronScheduler.AddTask("batch-maintenance", cfg.MaintenanceSchedule, w.RunMaintenanceTasks); err != nil {
		log.Fatalf("Failed to schedule maintenance: %v", err)
	}
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = cronScheduler.Start(rootCtx)
	}()

	// 7. Expose metrics
	metricsServer := &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// 8. Work until shutdown signal
	processed, err := w.Work(rootCtx, worker.WorkOptions{})
	if err != nil {
		logger.Error("worker stopped with error", "error", err, "processed", processed)
	}
	logger.Info("shutting down worker node gracefully", "processed", processed)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	cancel()
	<-schedulerDone
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("worker node shut down")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
