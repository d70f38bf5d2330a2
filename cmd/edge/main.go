package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixeledge/internal/api"
	"github.com/dunamismax/pixeledge/internal/config"
	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/pipeline"
	"github.com/dunamismax/pixeledge/internal/queue"
	"github.com/dunamismax/pixeledge/internal/ratelimit"
	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/dunamismax/pixeledge/internal/store"
	"github.com/dunamismax/pixeledge/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[edge] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TraceConfig("pixeledge-edge"), logger)
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
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Fatalf("bucket check failed bucket=%s err=%v", objects.Bucket(), err)
	}

	engine, err := pipeline.NewEngine(cfg.Edge.MaxDimension)
	if err != nil {
		logger.Fatalf("engine setup failed: %v", err)
	}

	variants, closeVariants := openVariantStore(ctx, cfg.Database, logger)
	defer closeVariants()

	handler := edge.NewHandler(logger, objects, engine, variants, edge.Config{
		Region:      cfg.Edge.Region,
		CachePrefix: cfg.Edge.CachePrefix,
		MaxAge:      cfg.Edge.MaxAge,
	})

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := []api.Option{api.WithTracer(otel.Tracer("pixeledge/api"))}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts = append(opts, api.WithRateLimiter(limiter, cfg.RateLimit.UserIDHeader))
		logger.Printf("rate limiting warm requests capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, handler, queueClient, objects, variants, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s backend=%s region=%s bucket=%s", cfg.API.Addr, pipeline.Backend(), cfg.Edge.Region, objects.Bucket())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// openVariantStore uses Postgres when a DSN is configured and falls back to
// memory otherwise.
func openVariantStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.VariantStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("variant ledger backend=memory")
		return store.NewMemoryVariantStore(), func() {}
	}

	pg, err := store.NewPostgresVariantStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("variant ledger setup failed: %v", err)
	}
	logger.Printf("variant ledger backend=postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("variant ledger close error: %v", err)
		}
	}
}
