// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the runtime.
//
// The logger redacts secrets before they reach any sink, the metrics cover
// the skill pipeline and policy engine, and the tracer is a no-op unless an
// OTLP endpoint is configured.
package observability
