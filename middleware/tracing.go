package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for cassieq tracing.
const tracerName = "github.com/paradoxical-io/cassieq-sub001"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: cassieq.task.name, cassieq.queue, cassieq.task.attempt.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "cassieq.task."+t.Name,
			trace.WithAttributes(
				attribute.String("cassieq.task.name", t.Name),
				attribute.String("cassieq.queue", t.Queue),
				attribute.Int("cassieq.task.attempt", t.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
