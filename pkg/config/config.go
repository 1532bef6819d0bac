package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/accessd/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// CacheConfig selects and tunes the permission cache
type CacheConfig struct {
	Backend string
	TTL     time.Duration
	Size    int

	// SweepSchedule is a cron schedule for evicting expired memory entries. Empty disables sweeping.
	SweepSchedule string

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// RBACConfig holds access control settings
type RBACConfig struct {
	// SeedFile is an optional YAML role seed applied at startup
	SeedFile string
	// TrustedHeader carries the authenticated user id set by the fronting proxy
	TrustedHeader string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		RBAC:          loadRBACConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ACCESS_HOST", "0.0.0.0"),
		Port:            getEnv("ACCESS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ACCESS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ACCESS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ACCESS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ACCESS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ACCESS_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("ACCESS_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("ACCESS_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("ACCESS_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("ACCESS_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("ACCESS_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(getEnv("ACCESS_CACHE_BACKEND", CacheMemory)),
		TTL:           getEnvDuration("ACCESS_CACHE_TTL", 10*time.Minute),
		Size:          getEnvInt("ACCESS_CACHE_SIZE", 10000),
		SweepSchedule: getEnv("ACCESS_CACHE_SWEEP_SCHEDULE", "@every 1m"),
		RedisURL:      getEnv("ACCESS_REDIS_URL", ""),
		RedisPassword: getEnv("ACCESS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ACCESS_REDIS_DB", 0),
		RedisPrefix:   getEnv("ACCESS_REDIS_PREFIX", "accessd"),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		SeedFile:      getEnv("ACCESS_SEED_FILE", ""),
		TrustedHeader: getEnv("ACCESS_TRUSTED_USER_HEADER", "X-User-ID"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ACCESS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ACCESS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ACCESS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ACCESS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ACCESS_OTEL_SERVICE_NAME", "accessd"),
		OTelServiceVersion: getEnv("ACCESS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ACCESS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive")
		}
		if c.Cache.SweepSchedule != "" {
			if _, err := cron.ParseStandard(c.Cache.SweepSchedule); err != nil {
				return fmt.Errorf("invalid cache sweep schedule %q: %w", c.Cache.SweepSchedule, err)
			}
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	case CacheNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.RBAC.TrustedHeader == "" {
		return fmt.Errorf("trusted user header is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
