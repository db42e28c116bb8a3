// Package observability provides logging, metrics, and tracing
// functionality for the authenticating gateway.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request forwarded",
//	    observability.String("service", "inventory"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns the Prometheus registry served on /metrics. Packages with
// their own collectors (identity, proxy) register them through
// MustRegisterCollector.
//
// # Tracing
//
// Tracer configures the OpenTelemetry SDK with an optional OTLP gRPC
// exporter. When disabled, spans come from the global no-op provider.
package observability
