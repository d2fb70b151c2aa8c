package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/audexhq/audex/internal/adapters/http"
	"github.com/audexhq/audex/internal/bootstrap"
	"github.com/audexhq/audex/internal/config"
	"github.com/audexhq/audex/internal/observability/metrics"
)

const serviceName = "audex-api"

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

	router := httpadapter.NewRouter(
		serviceName,
		app.IngestUC,
		app.QueryUC,
		app.RerunUC,
		app.Storage,
		app.Bus,
		metrics.NewHTTPServerMetrics(serviceName),
		time.Duration(cfg.SSEKeepaliveSeconds)*time.Second,
	)
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router.Handler(),
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: SSE connections stay open indefinitely
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown failed", "error", err)
	}
}
