// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	ACCESS_HOST="0.0.0.0"
//	ACCESS_PORT="8080"
//	ACCESS_HEALTH_PORT="9090"
//	ACCESS_READ_TIMEOUT="15s"
//	ACCESS_MAX_BODY_BYTES="1048576"
//
// Database settings:
//
//	ACCESS_DATABASE_URL="postgres://localhost/accessd?sslmode=disable"
//	ACCESS_DATABASE_MAX_OPEN_CONNS="20"
//
// Cache settings:
//
//	ACCESS_CACHE_BACKEND="memory"  # memory, redis, none
//	ACCESS_CACHE_TTL="10m"
//	ACCESS_CACHE_SIZE="10000"
//	ACCESS_CACHE_SWEEP_SCHEDULE="@every 1m"
//	ACCESS_REDIS_URL="redis://localhost:6379/0"
//
// Access control settings:
//
//	ACCESS_SEED_FILE="/etc/accessd/roles.yaml"
//	ACCESS_TRUSTED_USER_HEADER="X-User-ID"
//
// Observability settings:
//
//	ACCESS_LOG_LEVEL="info"  # debug, info, warn, error
//	ACCESS_METRICS_ENABLED="true"
//	ACCESS_OTEL_ENABLED="true"
//	ACCESS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Cache: %s\n", cfg.Cache.Backend)
package config
