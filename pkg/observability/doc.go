// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for the authorization engine.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Info("context loaded")
//
// FromContext decorates the context logger with request, session and
// principal ids set through pkg/contextkeys.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("patients", "read", true)
//
// A nil *Metrics is accepted everywhere and records nothing, so library
// callers that do not export metrics pass nil.
//
// # Tracing
//
// InitOTel installs OTLP gRPC trace and metric exporters globally. Packages
// obtain spans through Tracer(); the provider load is traced as
// "rbac.Provider.load".
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	router.Handle("/healthz", checker)
package observability
