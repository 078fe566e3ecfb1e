package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/api"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/cache"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/report"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/health"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/metrics"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/security"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "intelli-qa-api",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize database connection
	db, err := store.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	cancel()

	log.Println("Database connection established")

	// Initialize Redis connection
	redis, err := queue.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Test Redis connection
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redis.Health(ctx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	cancel()

	log.Println("Redis connection established")

	// Initialize persistence and the job queue. Run reads are served
	// through the Redis-backed cache; the store stays the source of truth.
	runCache := cache.NewRunCache(cache.NewService(redis, cache.DefaultConfig()))
	st := cache.NewCachedStore(store.NewStoreAdapter(db, nil), runCache)
	jobQueue := queue.NewQueue(redis, cfg.Queue.Name, queue.DefaultQueueConfig())

	// Initialize recovery services shared with the handlers
	degradation := resilience.NewGracefulDegradationManager()
	rollback := resilience.NewRollbackManager()
	recovery := resilience.NewErrorHandlingService(errorHandlingConfig(&cfg.Resilience), degradation, rollback)

	// The API instance only accepts and inspects runs; workers that execute
	// them live in the engine binary, so no executors are registered here.
	eng := engine.NewEngine(engine.Config{
		DefaultStepTimeout: cfg.Engine.DefaultStepTimeout,
		DefaultMaxAttempts: cfg.Engine.DefaultMaxAttempts,
		DefaultRetryDelay:  cfg.Engine.DefaultRetryDelay,
		ResultRetention:    cfg.Engine.ResultRetention,
	})
	service := engine.NewService(st, jobQueue, eng, recovery, nil)

	// Encrypt credentials in submitted plans before they reach the store;
	// the engine process shares the key and decrypts on execution
	if cfg.Security.EncryptionKey != "" {
		service.SetPlanCipher(security.NewEncryptionService(cfg.Security.EncryptionKey))
		log.Println("Plan parameter encryption enabled")
	}

	// Initialize report generation
	reports := report.NewService(&cfg.Report)

	// Initialize health checks
	healthService := health.NewService(logger, health.DefaultConfig())
	healthService.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))
	healthService.RegisterChecker("redis", health.NewRedisChecker(redis, "redis"))

	// Initialize metrics collection
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	defer collectorCancel()

	m := metrics.NewMetrics(metrics.DefaultConfig())
	collector := metrics.NewCollector(m, db, redis, jobQueue, 15*time.Second)
	go collector.Start(collectorCtx)

	// Initialize distributed tracing
	tracingConfig := tracing.DefaultConfig()
	tracingConfig.ServiceName = "intelli-qa-api"
	tracingConfig.Enabled = cfg.Tracing.Enabled
	tracingConfig.JaegerEndpoint = cfg.Tracing.JaegerEndpoint
	tracingConfig.SamplingRate = cfg.Tracing.SampleRate

	tracingService, err := tracing.NewTracingService(tracingConfig)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Create API router with all dependencies
	router := api.NewRouter(cfg, service, recovery, reports, redis, healthService, m, tracingService)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting API server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	collector.Stop()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracingService.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracing: %v", err)
	}

	log.Println("Server exited")
}

// errorHandlingConfig maps environment-driven resilience settings onto the
// recovery service configuration
func errorHandlingConfig(cfg *config.ResilienceConfig) resilience.ErrorHandlingConfig {
	return resilience.ErrorHandlingConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialDelay:      cfg.RetryBaseDelay,
			MaxDelay:          cfg.RetryMaxDelay,
			BackoffMultiplier: cfg.RetryMultiplier,
			Jitter:            cfg.RetryJitter,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold: int32(cfg.FailureThreshold),
			RecoveryTimeout:  cfg.RecoveryTimeout,
			SuccessThreshold: int32(cfg.SuccessThreshold),
		},
	}
}
