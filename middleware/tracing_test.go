package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/paradoxical-io/cassieq-sub001/middleware"
)

func repairTask() *mw.Task {
	return &mw.Task{Name: "repair", Queue: "acme/orders/0", Attempt: 2}
}

// traced runs fn as a repair task under the tracing middleware and returns
// the single span it produced.
func traced(t *testing.T, fn mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	err := mw.TracingWithTracer(tp.Tracer("test"))(context.Background(), repairTask(), fn)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0], err
}

func TestTracing_NamesSpanAfterTask(t *testing.T) {
	span, err := traced(t, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if span.Name() != "cassieq.task.repair" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindInternal {
		t.Errorf("span kind = %v, want internal", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	got := map[string]string{}
	for _, kv := range span.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"cassieq.task.name":    "repair",
		"cassieq.queue":        "acme/orders/0",
		"cassieq.task.attempt": "2",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestTracing_FailedTaskRecordsError(t *testing.T) {
	sweepErr := errors.New("sweep failed")
	span, err := traced(t, func(context.Context) error { return sweepErr })
	if !errors.Is(err, sweepErr) {
		t.Fatalf("err = %v, want %v", err, sweepErr)
	}
	if span.Status().Code != codes.Error || span.Status().Description != "sweep failed" {
		t.Errorf("status = %+v", span.Status())
	}

	recorded := false
	for _, ev := range span.Events() {
		recorded = recorded || ev.Name == "exception"
	}
	if !recorded {
		t.Error("no exception event on the span")
	}
}

func TestTracing_HandlerSeesSpan(t *testing.T) {
	var inner trace.SpanContext
	span, _ := traced(t, func(ctx context.Context) error {
		inner = trace.SpanContextFromContext(ctx)
		return nil
	})
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Errorf("handler span = %v, want %v", inner.SpanID(), span.SpanContext().SpanID())
	}
}

func TestTracing_GlobalProviderIsNoop(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), repairTask(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
