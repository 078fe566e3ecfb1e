package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Engine        EngineConfig        `json:"engine"`
	Resilience    ResilienceConfig    `json:"resilience"`
	Queue         QueueConfig         `json:"queue"`
	Kafka         KafkaConfig         `json:"kafka"`
	Auth          AuthConfig          `json:"auth"`
	Notifications NotificationsConfig `json:"notifications"`
	Report        ReportConfig        `json:"report"`
	Security      SecurityConfig      `json:"security"`
	Tracing       TracingConfig       `json:"tracing"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// EngineConfig contains test execution engine configuration
type EngineConfig struct {
	MaxConcurrentRuns  int           `json:"max_concurrent_runs"`
	DefaultStepTimeout time.Duration `json:"default_step_timeout"`
	DefaultMaxAttempts int           `json:"default_max_attempts"`
	DefaultRetryDelay  time.Duration `json:"default_retry_delay"`
	ResultRetention    time.Duration `json:"result_retention"`
}

// ResilienceConfig contains recovery and fault tolerance configuration
type ResilienceConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
	RetryMaxAttempts int           `json:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay"`
	RetryMultiplier  float64       `json:"retry_multiplier"`
	RetryJitter      bool          `json:"retry_jitter"`
}

// QueueConfig contains job queue configuration
type QueueConfig struct {
	Name            string        `json:"name"`
	Workers         int           `json:"workers"`
	DefaultTimeout  time.Duration `json:"default_timeout"`
	RetryDelay      time.Duration `json:"retry_delay"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// KafkaConfig contains Kafka broker configuration for messaging probes
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret"`
	JWTExpiration time.Duration `json:"jwt_expiration"`
}

// NotificationsConfig contains notification delivery configuration
type NotificationsConfig struct {
	Enabled         bool   `json:"enabled"`
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
	WebhookURL      string `json:"webhook_url"`
	WebhookSecret   string `json:"webhook_secret"`
	MinSeverity     string `json:"min_severity"`
	RunURLBase      string `json:"run_url_base"`
}

// ReportConfig contains run report export configuration
type ReportConfig struct {
	OutputDir string        `json:"output_dir"`
	BaseURL   string        `json:"base_url"`
	ExportTTL time.Duration `json:"export_ttl"`
}

// SecurityConfig contains encryption configuration
type SecurityConfig struct {
	EncryptionKey string `json:"encryption_key"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	// Load .env if present; real deployments set environment variables directly
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "intelliqa"),
			User:            getEnvString("DB_USER", "intelliqa"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Engine: EngineConfig{
			MaxConcurrentRuns:  getEnvInt("ENGINE_MAX_CONCURRENT_RUNS", 10),
			DefaultStepTimeout: getEnvDuration("ENGINE_DEFAULT_STEP_TIMEOUT", 30*time.Second),
			DefaultMaxAttempts: getEnvInt("ENGINE_DEFAULT_MAX_ATTEMPTS", 3),
			DefaultRetryDelay:  getEnvDuration("ENGINE_DEFAULT_RETRY_DELAY", 1*time.Second),
			ResultRetention:    getEnvDuration("ENGINE_RESULT_RETENTION", 1*time.Hour),
		},
		Resilience: ResilienceConfig{
			FailureThreshold: getEnvInt("RESILIENCE_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("RESILIENCE_RECOVERY_TIMEOUT", 60*time.Second),
			SuccessThreshold: getEnvInt("RESILIENCE_SUCCESS_THRESHOLD", 3),
			RetryMaxAttempts: getEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvDuration("RESILIENCE_RETRY_BASE_DELAY", 1*time.Second),
			RetryMaxDelay:    getEnvDuration("RESILIENCE_RETRY_MAX_DELAY", 30*time.Second),
			RetryMultiplier:  getEnvFloat("RESILIENCE_RETRY_MULTIPLIER", 2.0),
			RetryJitter:      getEnvBool("RESILIENCE_RETRY_JITTER", true),
		},
		Queue: QueueConfig{
			Name:            getEnvString("QUEUE_NAME", "test-runs"),
			Workers:         getEnvInt("QUEUE_WORKERS", 5),
			DefaultTimeout:  getEnvDuration("QUEUE_DEFAULT_TIMEOUT", 10*time.Minute),
			RetryDelay:      getEnvDuration("QUEUE_RETRY_DELAY", 30*time.Second),
			CleanupInterval: getEnvDuration("QUEUE_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnvString("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		Notifications: NotificationsConfig{
			Enabled:         getEnvBool("NOTIFICATIONS_ENABLED", false),
			SlackWebhookURL: getEnvString("NOTIFICATIONS_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("NOTIFICATIONS_SLACK_CHANNEL", ""),
			WebhookURL:      getEnvString("NOTIFICATIONS_WEBHOOK_URL", ""),
			WebhookSecret:   getEnvString("NOTIFICATIONS_WEBHOOK_SECRET", ""),
			MinSeverity:     getEnvString("NOTIFICATIONS_MIN_SEVERITY", "HIGH"),
			RunURLBase:      getEnvString("NOTIFICATIONS_RUN_URL_BASE", "http://localhost:8080/api/v1/runs"),
		},
		Report: ReportConfig{
			OutputDir: getEnvString("REPORT_OUTPUT_DIR", "/tmp/intelliqa/reports"),
			BaseURL:   getEnvString("REPORT_BASE_URL", "http://localhost:8080/exports"),
			ExportTTL: getEnvDuration("REPORT_EXPORT_TTL", 24*time.Hour),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnvString("ENCRYPTION_KEY", ""),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) < 16 {
		return fmt.Errorf("encryption key must be at least 16 characters")
	}

	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("resilience failure threshold must be at least 1")
	}

	if c.Resilience.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry multiplier must be at least 1.0")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
