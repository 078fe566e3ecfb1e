package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcompilerr/intelli-qa-sub001/executors/kafkaprobe"
	"github.com/cloudcompilerr/intelli-qa-sub001/executors/resthttp"
	"github.com/cloudcompilerr/intelli-qa-sub001/executors/wait"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/cache"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/notifications"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/notifications/channels"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/security"
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
		ServiceName: "intelli-qa-engine",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	log.Printf("Starting execution engine")
	log.Printf("Max concurrent runs: %d", cfg.Engine.MaxConcurrentRuns)
	log.Printf("Queue workers: %d", cfg.Queue.Workers)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	db, err := store.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(healthCtx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	healthCancel()

	log.Println("Database connection established")

	// Initialize Redis connection
	redisClient, err := queue.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Test Redis connection
	healthCtx, healthCancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Health(healthCtx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	healthCancel()

	log.Println("Redis connection established")

	// Initialize job queue
	queueConfig := queue.DefaultQueueConfig()
	queueConfig.MaxConcurrency = cfg.Engine.MaxConcurrentRuns
	queueConfig.DefaultTimeout = cfg.Queue.DefaultTimeout
	queueConfig.RetryDelay = cfg.Queue.RetryDelay
	queueConfig.CleanupInterval = cfg.Queue.CleanupInterval

	jobQueue := queue.NewQueue(redisClient, cfg.Queue.Name, queueConfig)

	// Initialize execution engine
	eng := engine.NewEngine(engine.Config{
		DefaultStepTimeout: cfg.Engine.DefaultStepTimeout,
		DefaultMaxAttempts: cfg.Engine.DefaultMaxAttempts,
		DefaultRetryDelay:  cfg.Engine.DefaultRetryDelay,
		ResultRetention:    cfg.Engine.ResultRetention,
	})

	// Register available step executors
	kafkaConfig := kafkaprobe.DefaultConfig()
	kafkaConfig.Brokers = cfg.Kafka.Brokers
	kafkaExecutor := kafkaprobe.NewExecutorWithConfig(kafkaConfig)

	if err := registerExecutors(eng, kafkaExecutor); err != nil {
		log.Fatalf("Failed to register executors: %v", err)
	}

	// Initialize recovery services
	degradation := resilience.NewGracefulDegradationManager()
	rollback := resilience.NewRollbackManager()
	recovery := resilience.NewErrorHandlingService(errorHandlingConfig(&cfg.Resilience), degradation, rollback)

	// Route recovery signals into operator alerts
	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())

	healthMonitor := resilience.NewSystemHealthMonitor(alertManager, recovery)
	healthMonitor.BindBreakerAlerts(ctx)
	healthMonitor.Start(ctx)

	// Initialize execution service
	serviceConfig := engine.DefaultServiceConfig()
	serviceConfig.MaxConcurrentRuns = cfg.Engine.MaxConcurrentRuns
	serviceConfig.RunTimeout = cfg.Queue.DefaultTimeout
	serviceConfig.WorkerCount = cfg.Queue.Workers
	serviceConfig.CleanupInterval = cfg.Queue.CleanupInterval

	// The cache shares Redis with the API process, so invalidations on
	// finish and prune propagate to its readers.
	runCache := cache.NewRunCache(cache.NewService(redisClient, cache.DefaultConfig()))
	st := cache.NewCachedStore(store.NewStoreAdapter(db, nil), runCache)
	service := engine.NewService(st, jobQueue, eng, recovery, serviceConfig)

	// Stored plans carry encrypted credentials when a key is configured;
	// the API process must share the same key
	if cfg.Security.EncryptionKey != "" {
		service.SetPlanCipher(security.NewEncryptionService(cfg.Security.EncryptionKey))
		log.Println("Plan parameter encryption enabled")
	}

	// Wire outbound notifications when configured
	var dispatcher *notifications.Dispatcher
	if cfg.Notifications.Enabled {
		zapLogger, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("Failed to initialize notification logger: %v", err)
		}
		defer zapLogger.Sync()

		notifService := notifications.NewService(zapLogger, notifications.NewDefaultTemplateManager())
		notifService.RegisterChannelHandler(channels.NewSlackHandler(zapLogger))
		notifService.RegisterChannelHandler(channels.NewWebhookHandler(zapLogger))
		for _, channel := range notifications.ChannelsFromConfig(&cfg.Notifications) {
			notifService.AddChannel(channel)
		}

		dispatcher = notifications.NewDispatcher(notifService, cfg.Notifications.RunURLBase)
		service.SetNotifier(dispatcher)
		log.Println("Notification dispatch enabled")
	}

	// Start the execution service
	if err := service.Start(ctx); err != nil {
		log.Fatalf("Failed to start execution service: %v", err)
	}

	log.Println("Execution engine started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down execution engine...")

	// Cancel context to stop all goroutines
	cancel()

	// Stop the execution service with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping execution service: %v", err)
	}

	// Flush in-flight notifications before dropping connections
	if dispatcher != nil {
		dispatcher.Wait()
	}

	healthMonitor.Stop()

	if err := kafkaExecutor.Close(); err != nil {
		log.Printf("Error closing Kafka executor: %v", err)
	}

	log.Println("Execution engine exited")
}

// registerExecutors registers all available step executors
func registerExecutors(eng *engine.Engine, kafkaExecutor *kafkaprobe.Executor) error {
	// Register REST HTTP executor
	if err := eng.RegisterExecutor(resthttp.NewExecutor()); err != nil {
		return err
	}
	log.Println("Registered REST HTTP executor")

	// Register Kafka probe executor
	if err := eng.RegisterExecutor(kafkaExecutor); err != nil {
		return err
	}
	log.Println("Registered Kafka probe executor")

	// Register wait executor
	if err := eng.RegisterExecutor(wait.NewExecutor()); err != nil {
		return err
	}
	log.Println("Registered wait executor")

	return nil
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
