package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for cassieq metrics.
const meterName = "github.com/paradoxical-io/cassieq-sub001"

// Metrics returns middleware that records per-task execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - cassieq.task.duration (Float64Histogram): seconds, by task and status
//   - cassieq.task.executions (Int64Counter): runs, by task and status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"cassieq.task.duration",
		metric.WithDescription("Duration of background task execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"cassieq.task.executions",
		metric.WithDescription("Total number of background task executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, t *Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		// Queue is left off to bound cardinality.
		attrs := metric.WithAttributes(
			attribute.String("task", t.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
