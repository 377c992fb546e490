// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for idlink.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("identity_id", id).Info("Anonymous identity created")
//
// Request-scoped logging:
//
//	observability.FromContext(ctx).WithError(err).Error("Link commit failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveLink("commit", "committed", time.Since(start))
//
// All Metrics helpers are safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(store.DB(), redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "idlink",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
