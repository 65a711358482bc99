// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown coordination.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", userID).Info("login succeeded")
//
// Loggers never receive credentials, password hashes, or raw token strings;
// callers log stable identifiers (user_id, session_id, jti) instead.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginsTotal.WithLabelValues("success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// Redis down reports unhealthy: token blacklist checks fail closed without it,
// so a node without Redis cannot serve authenticated traffic.
package observability
