package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/paradoxical-io/cassieq-sub001/middleware"
)

// runMetered executes one repair task per outcome through the metrics
// middleware and returns what the reader collected.
func runMetered(t *testing.T, outcomes ...error) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := mw.MetricsWithMeter(mp.Meter("test"))

	for _, outcome := range outcomes {
		err := m(context.Background(), repairTask(), func(context.Context) error { return outcome })
		if !errors.Is(err, outcome) {
			t.Fatalf("middleware changed the outcome: got %v, want %v", err, outcome)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricNamed(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func stringAttrs(set attribute.Set) map[string]string {
	out := map[string]string{}
	for _, kv := range set.ToSlice() {
		if kv.Value.Type() == attribute.STRING {
			out[string(kv.Key)] = kv.Value.AsString()
		}
	}
	return out
}

func TestMetrics_ExecutionsByStatus(t *testing.T) {
	rm := runMetered(t, nil, nil, errors.New("lost pointer race"))

	m, ok := metricNamed(rm, "cassieq.task.executions")
	if !ok {
		t.Fatal("cassieq.task.executions not recorded")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T, want Sum[int64]", m.Data)
	}

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		attrs := stringAttrs(dp.Attributes)
		if attrs["task"] != "repair" {
			t.Errorf("task attribute = %q, want repair", attrs["task"])
		}
		if _, hasQueue := attrs["queue"]; hasQueue {
			t.Error("queue must not be a metric attribute")
		}
		byStatus[attrs["status"]] += dp.Value
	}
	if byStatus["ok"] != 2 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v, want ok:2 error:1", byStatus)
	}
}

func TestMetrics_DurationHistogram(t *testing.T) {
	rm := runMetered(t, nil)

	m, ok := metricNamed(rm, "cassieq.task.duration")
	if !ok {
		t.Fatal("cassieq.task.duration not recorded")
	}
	if m.Unit != "s" {
		t.Errorf("unit = %q, want s", m.Unit)
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T, want Histogram[float64]", m.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration points = %+v, want one point with count 1", hist.DataPoints)
	}
	if got := stringAttrs(hist.DataPoints[0].Attributes)["status"]; got != "ok" {
		t.Errorf("status = %q, want ok", got)
	}
}

func TestMetrics_GlobalProviderIsNoop(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), repairTask(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
