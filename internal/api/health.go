package api

import (
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/health"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// NewHealthService builds the health service with checkers for the API's
// backing dependencies
func NewHealthService(db *store.DB, redis *queue.RedisClient, logger *logging.Logger) *health.Service {
	svc := health.NewService(logger, health.DefaultConfig())

	if db != nil {
		svc.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))
	}
	if redis != nil {
		svc.RegisterChecker("redis", health.NewRedisChecker(redis, "redis"))
	}

	return svc
}
