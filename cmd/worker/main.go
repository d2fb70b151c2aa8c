package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audexhq/audex/internal/bootstrap"
	"github.com/audexhq/audex/internal/config"
	"github.com/audexhq/audex/internal/observability/metrics"
)

const serviceName = "audex-worker"

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		slog.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeBatchIngested(ctx, func(handlerCtx context.Context, batchID string) error {
		if batch, err := app.Repo.GetByID(handlerCtx, batchID); err == nil {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(batch.CreatedAt))
		}

		workerMetrics.StartBatch()
		start := time.Now()
		runErr := app.ProcessUC.ProcessByID(handlerCtx, batchID)
		workerMetrics.FinishBatch(serviceName, time.Since(start), runErr)
		return runErr
	})
	if err != nil {
		slog.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}
}
