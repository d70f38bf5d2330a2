package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixeledge/internal/config"
	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/pipeline"
	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/dunamismax/pixeledge/internal/store"
	"github.com/dunamismax/pixeledge/internal/telemetry"
	"github.com/dunamismax/pixeledge/internal/webhook"
	"github.com/dunamismax/pixeledge/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TraceConfig("pixeledge-worker"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(cfg.Transform.VipsCacheMB); err != nil {
		logger.Fatalf("image backend startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	objects, err := storage.New(ctx, cfg.Storage.StoreConfig())
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	engine, err := pipeline.NewEngine(cfg.Edge.MaxDimension)
	if err != nil {
		logger.Fatalf("engine setup failed: %v", err)
	}

	var variants store.VariantStore = store.NewMemoryVariantStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresVariantStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("variant ledger setup failed: %v", err)
		}
		defer pg.Close()
		variants = pg
	}

	handler := edge.NewHandler(logger, objects, engine, variants, edge.Config{
		Region:      cfg.Edge.Region,
		CachePrefix: cfg.Edge.CachePrefix,
		MaxAge:      cfg.Edge.MaxAge,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, handler, webhook.NewClient(cfg.Webhook.ClientConfig()))
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("metrics shutdown failed: %v", err)
		}
	}()

	// asynq's Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
