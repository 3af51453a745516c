// Package observability provides structured logging and metrics for
// the route server.
//
// Logging is backed by zap behind a small Logger interface so that
// packages do not depend on a concrete logging implementation:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request completed",
//	    observability.String("method", "GET"),
//	    observability.Int("status", 200),
//	)
//
// Metrics are collected in a dedicated Prometheus registry so that
// multiple server instances can coexist in one process:
//
//	metrics := observability.NewMetrics("routegate")
//	adminMux.Handle("/metrics", metrics.Handler())
package observability
