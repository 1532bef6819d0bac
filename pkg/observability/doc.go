// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown for accessd.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", userID).Info("role assigned")
//
// Request handlers pull a logger carrying the request id, principal and trace:
//
//	observability.FromContext(r.Context()).WithError(err).Error("check failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("has_permission", allowed, time.Since(start))
//
// A nil *Metrics is valid and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "accessd",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
