package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/accessd/pkg/config"
	"github.com/platinummonkey/accessd/pkg/httputil"
	"github.com/platinummonkey/accessd/pkg/observability"
	"github.com/platinummonkey/accessd/pkg/rbac"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply migrations and the seed file, then exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "accessd").
		WithField("version", version)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("accessd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to database")

	cache, redisClient, err := newCache(ctx, cfg.Cache)
	if err != nil {
		db.Close()
		return err
	}
	logger.WithField("backend", cfg.Cache.Backend).Info("Permission cache ready")

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewDBStatsCollector(db, "accessd"),
		)
		metrics = observability.NewMetrics(registry)
	}

	var seed *rbac.Seed
	if cfg.RBAC.SeedFile != "" {
		seed, err = rbac.LoadSeed(cfg.RBAC.SeedFile)
		if err != nil {
			db.Close()
			return err
		}
	}

	manager := rbac.NewManager(db, rbac.Config{Cache: cache}, metrics, logger)
	if err := manager.Initialize(ctx, seed, logger); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize access control: %w", err)
	}
	if migrateOnly {
		logger.Info("Migrations applied, exiting")
		return db.Close()
	}

	scheduler, err := startSweeper(cfg.Cache, cache, metrics, logger)
	if err != nil {
		db.Close()
		return err
	}

	apiServer := newAPIServer(cfg, manager, metrics, logger)
	healthServer := newHealthServer(cfg, db, redisClient, registry)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	serveErr := make(chan error, 2)
	for _, server := range []*http.Server{apiServer, healthServer} {
		server := server
		go func() {
			logger.WithField("addr", server.Addr).Info("Listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", server.Addr, err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(runCtx)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// newCache builds the configured cache backend. The redis client is returned
// so the health checker can probe it.
func newCache(ctx context.Context, cfg config.CacheConfig) (rbac.Cache, *redis.Client, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return rbac.NopCache{}, nil, nil
	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
		if cfg.RedisDB != 0 {
			opts.DB = cfg.RedisDB
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rbac.NewRedisCache(client, cfg.RedisPrefix, cfg.TTL), client, nil
	default:
		cache, err := rbac.NewMemoryCache(cfg.Size, cfg.TTL, nil)
		if err != nil {
			return nil, nil, err
		}
		return cache, nil, nil
	}
}

// startSweeper schedules expiry sweeps for the in-process cache. Redis
// expires entries itself.
func startSweeper(cfg config.CacheConfig, cache rbac.Cache, metrics *observability.Metrics, logger *observability.Logger) (*cron.Cron, error) {
	memory, ok := cache.(*rbac.MemoryCache)
	if !ok || cfg.SweepSchedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.SweepSchedule, func() {
		defer observability.RecoverPanic(logger, "cache sweep")

		removed := memory.SweepExpired()
		metrics.RecordSweep(removed)
		if removed > 0 {
			logger.WithField("removed", removed).WithField("remaining", memory.Len()).Debug("Swept expired cache entries")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	c.Start()
	logger.WithField("schedule", cfg.SweepSchedule).Info("Cache sweeper started")
	return c, nil
}

func newAPIServer(cfg *config.Config, manager *rbac.Manager, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	manager.RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestID,
		httputil.RequestLogger(logger),
		httputil.Recovery(logger),
		httputil.TrustedHeaderPrincipal(cfg.RBAC.TrustedHeader),
		httputil.MaxBytes(cfg.Server.MaxBodyBytes),
	)(router)

	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "accessd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func newHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry) *http.Server {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
