// Package observability provides an OpenTelemetry metrics extension for
// cassieq. MetricsExtension implements the lifecycle hooks to record
// counters for puts, deliveries, acks, requeues, poison messages, bucket
// retirement, queue lifecycle and leadership changes.
//
// For per-task tracing and metrics of background loops, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
