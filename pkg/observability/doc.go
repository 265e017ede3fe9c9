// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for authd.
//
// # Structured Logging
//
// Logger writes JSON through log/slog. Components take a *Logger and fall
// back to a discard logger when given nil:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("lockout").WithField("principal_key", key).Warn("principal locked out")
//
// TraceLogger tags entries with the active span's trace and span IDs.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("success", "WEB")
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// Every Record method is a no-op on a nil *Metrics, so components can be
// built without metrics in tests.
//
// # Tracing
//
//	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "authd",
//	}, logger)
//
// # Health Checks
//
// HealthChecker probes the session database (required) and Redis
// (degraded when down, since lockout and broadcast fall back to local).
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request ID and rate limiting middleware
package observability
