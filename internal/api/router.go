package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/report"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/health"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/metrics"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/security"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/tracing"
)

// NewRouter creates and configures the API router
func NewRouter(
	cfg *config.Config,
	service engine.ExecutionService,
	recovery *resilience.ErrorHandlingService,
	reports *report.Service,
	redis *queue.RedisClient,
	healthSvc *health.Service,
	m *metrics.Metrics,
	ts *tracing.TracingService,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.GetLogger()
	router := gin.New()

	// Add middleware
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger))
	router.Use(CORSMiddleware(cfg))
	router.Use(security.SecurityHeadersMiddleware(security.DefaultSecurityHeadersConfig()))
	router.Use(security.RequestSizeMiddleware(1 << 20))
	router.Use(RateLimitMiddleware(redis, logger))
	if m != nil {
		router.Use(m.PrometheusMiddleware())
	}
	if ts != nil {
		router.Use(ts.TracingMiddleware())
	}

	// Health and metrics endpoints (no auth required)
	if healthSvc != nil {
		router.GET("/health", healthSvc.Handler())
		router.GET("/health/live", healthSvc.LivenessHandler())
		router.GET("/health/ready", healthSvc.ReadinessHandler())
	}
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// API version info (no auth required)
	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "IntelliQA API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	// Create handlers
	runHandler := NewRunHandler(service, reports)
	recoveryHandler := NewRecoveryHandler(recovery)

	// API v1 routes (require authentication)
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		runs := v1.Group("/runs")
		{
			runs.POST("", runHandler.SubmitRun)
			runs.GET("", runHandler.ListRuns)
			runs.GET("/summary", runHandler.GetRunSummary)
			runs.GET("/:id", runHandler.GetRun)
			runs.GET("/:id/status", runHandler.GetRunStatus)
			runs.GET("/:id/steps", runHandler.GetRunSteps)
			runs.GET("/:id/recovery", runHandler.GetRunRecovery)
			runs.POST("/:id/pause", runHandler.PauseRun)
			runs.POST("/:id/resume", runHandler.ResumeRun)
			runs.POST("/:id/cancel", runHandler.CancelRun)
			runs.POST("/:id/export", runHandler.ExportRun)
		}

		rec := v1.Group("/recovery")
		{
			rec.GET("/statistics", recoveryHandler.GetStatistics)
			rec.POST("/degradation", recoveryHandler.UpdateDegradation)
			rec.POST("/circuit-breakers/reset", recoveryHandler.ResetCircuitBreakers)
		}

		v1.GET("/stats", runHandler.GetServiceStats)
	}

	// Catch-all route for undefined endpoints
	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
