package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
)

// Service provides caching for frequently read run data
type Service struct {
	redis  *queue.RedisClient
	config *Config
}

// Config holds cache configuration
type Config struct {
	DefaultTTL time.Duration `json:"default_ttl"`
	RunTTL     time.Duration `json:"run_ttl"`
	StepsTTL   time.Duration `json:"steps_ttl"`
	SummaryTTL time.Duration `json:"summary_ttl"`
}

// DefaultConfig returns default cache configuration. Runs and step results
// are immutable once a run finishes, so they keep long TTLs; summaries
// aggregate live data and expire quickly.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL: 1 * time.Hour,
		RunTTL:     24 * time.Hour,
		StepsTTL:   6 * time.Hour,
		SummaryTTL: 1 * time.Minute,
	}
}

// NewService creates a new cache service
func NewService(redis *queue.RedisClient, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		redis:  redis,
		config: config,
	}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixRun        = "run"
	PrefixRunSteps   = "run_steps"
	PrefixRunSummary = "run_summary"
)

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := s.serialize(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.redis.Set(ctx, key.String(), data, ttl); err != nil {
		return errors.NewInternalError("failed to set cache value").WithCause(err)
	}

	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.redis.Get(ctx, key.String())
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewInternalError("failed to get cache value").WithCause(err)
	}

	if err := s.deserialize(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	return nil
}

// Delete removes values from cache
func (s *Service) Delete(ctx context.Context, keys ...CacheKey) error {
	if len(keys) == 0 {
		return nil
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}

	if _, err := s.redis.Del(ctx, names...); err != nil {
		return errors.NewInternalError("failed to delete cache keys").WithCause(err)
	}
	return nil
}

// InvalidatePattern removes all keys matching a pattern
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := s.redis.Keys(ctx, pattern)
	if err != nil {
		return errors.NewInternalError("failed to get keys for pattern").WithCause(err)
	}

	if len(keys) == 0 {
		return nil
	}

	_, err = s.redis.Del(ctx, keys...)
	if err != nil {
		return errors.NewInternalError("failed to delete keys").WithCause(err)
	}

	return nil
}

// serialize converts a value to JSON
func (s *Service) serialize(value interface{}) (string, error) {
	if str, ok := value.(string); ok {
		return str, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// deserialize converts JSON back to a value
func (s *Service) deserialize(data string, dest interface{}) error {
	if str, ok := dest.(*string); ok {
		*str = data
		return nil
	}

	return json.Unmarshal([]byte(data), dest)
}
