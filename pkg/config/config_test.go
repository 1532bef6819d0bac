package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/accessd/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{"returns true for 'true'", false, "true", true},
		{"returns true for 'TRUE'", false, "TRUE", true},
		{"returns true for '1'", false, "1", true},
		{"returns false for 'false'", true, "false", false},
		{"returns false for garbage", true, "yes please", false},
		{"returns default when unset", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the integer and duration helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_INT64", "9000000000")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "soon")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %v, want default 7", got)
	}
	if got := getEnvInt64("TEST_INT64", 1); got != 9000000000 {
		t.Errorf("getEnvInt64() = %v, want 9000000000", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with invalid value = %v, want default 1s", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ACCESS_DATABASE_URL", "postgres://localhost/accessd")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("Cache.Backend = %v, want memory", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Cache.TTL = %v, want 10m", cfg.Cache.TTL)
	}
	if cfg.Cache.Size != 10000 {
		t.Errorf("Cache.Size = %v, want 10000", cfg.Cache.Size)
	}
	if cfg.RBAC.TrustedHeader != "X-User-ID" {
		t.Errorf("RBAC.TrustedHeader = %v, want X-User-ID", cfg.RBAC.TrustedHeader)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want INFO", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.MetricsEnabled {
		t.Error("metrics should be enabled by default")
	}
	if cfg.Observability.OTelServiceName != "accessd" {
		t.Errorf("OTelServiceName = %v, want accessd", cfg.Observability.OTelServiceName)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ACCESS_DATABASE_URL", "postgres://db/accessd")
	t.Setenv("ACCESS_PORT", "8000")
	t.Setenv("ACCESS_CACHE_BACKEND", "Redis")
	t.Setenv("ACCESS_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("ACCESS_CACHE_TTL", "2m")
	t.Setenv("ACCESS_SEED_FILE", "/etc/accessd/roles.yaml")
	t.Setenv("ACCESS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("Server.Port = %v, want 8000", cfg.Server.Port)
	}
	if cfg.Cache.Backend != CacheRedis {
		t.Errorf("Cache.Backend = %v, want redis", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache.TTL = %v, want 2m", cfg.Cache.TTL)
	}
	if cfg.RBAC.SeedFile != "/etc/accessd/roles.yaml" {
		t.Errorf("RBAC.SeedFile = %v", cfg.RBAC.SeedFile)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.Observability.LogLevel)
	}
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: DatabaseConfig{URL: "postgres://localhost/accessd"},
		Cache: CacheConfig{
			Backend:       CacheMemory,
			TTL:           10 * time.Minute,
			Size:          100,
			SweepSchedule: "@every 1m",
		},
		RBAC: RBACConfig{TrustedHeader: "X-User-ID"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database URL is required"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }, "redis URL is required"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache TTL must be positive"},
		{"no cache ignores ttl", func(c *Config) { c.Cache.Backend = CacheNone; c.Cache.TTL = 0 }, ""},
		{"bad sweep schedule", func(c *Config) { c.Cache.SweepSchedule = "every so often" }, "invalid cache sweep schedule"},
		{"sweep disabled", func(c *Config) { c.Cache.SweepSchedule = "" }, ""},
		{"zero size", func(c *Config) { c.Cache.Size = 0 }, "cache size must be positive"},
		{"missing header", func(c *Config) { c.RBAC.TrustedHeader = "" }, "trusted user header"},
		{
			"otel without endpoint",
			func(c *Config) { c.Observability.OTelEnabled = true; c.Observability.OTelServiceName = "accessd" },
			"endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
