// Package observability provides logging, metrics and tracing for the chatbot
// service.
//
// Logging is built on log/slog. NewLogger returns a *slog.Logger whose handler
// redacts API keys, bearer tokens and similar secrets and adds the request and
// session ids carried by the context.
//
// Metrics are Prometheus collectors registered against an explicit
// prometheus.Registerer. Turns, model calls, failovers, tool executions,
// stream events, HTTP requests and database queries are tracked.
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. Without an endpoint
// the tracer is a no-op.
package observability
