package observability_test

import (
	"context"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/ext"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/observability"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

var testQueue = queue.ID{Account: "acme", Name: "orders", Version: 0}

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

// sumOf returns the total of an int64 sum metric, or -1 if absent.
func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return -1
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return -1
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_MessageHooks(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()
	m := &message.Message{Index: 7, Version: 1, DeliveryCount: 2}

	steps := []func() error{
		func() error { return e.OnMessagePut(ctx, testQueue, m) },
		func() error { return e.OnMessagePut(ctx, testQueue, m) },
		func() error { return e.OnMessageConsumed(ctx, testQueue, m) },
		func() error { return e.OnMessageAcked(ctx, testQueue, m.Index) },
		func() error { return e.OnMessageRequeued(ctx, testQueue, m, 9) },
		func() error { return e.OnPoisonMessage(ctx, testQueue, m, nil) },
		func() error { return e.OnBucketRetired(ctx, testQueue, 0) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"cassieq.message.put", 2},
		{"cassieq.message.consumed", 1},
		{"cassieq.message.acked", 1},
		{"cassieq.message.requeued", 1},
		{"cassieq.message.poison", 1},
		{"cassieq.bucket.retired", 1},
	}
	for _, tt := range tests {
		if got := sumOf(rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMetricsExtension_AccountAttribute(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()
	other := queue.ID{Account: "globex", Name: "orders"}

	_ = e.OnMessagePut(ctx, testQueue, &message.Message{})
	_ = e.OnMessagePut(ctx, other, &message.Message{})

	rm := collect(t, reader)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cassieq.message.put" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			if len(sum.DataPoints) != 2 {
				t.Fatalf("expected one data point per account, got %d", len(sum.DataPoints))
			}
			return
		}
	}
	t.Fatal("cassieq.message.put metric not found")
}

func TestMetricsExtension_QueueAndClusterHooks(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()
	def := &queue.Definition{Account: "acme", Name: "orders"}

	_ = e.OnQueueCreated(ctx, def)
	_ = e.OnQueueDeleting(ctx, def)
	_ = e.OnQueueDeleted(ctx, def.ID())
	_ = e.OnLeadershipChanged(ctx, cluster.RoleDeletionSweeper, true)
	_ = e.OnAllocationChanged(ctx, []string{"acme/a/0", "acme/b/0", "acme/c/0"}, nil)
	_ = e.OnAllocationChanged(ctx, nil, []string{"acme/a/0"})

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"cassieq.queue.created", 1},
		{"cassieq.queue.deleting", 1},
		{"cassieq.queue.deleted", 1},
		{"cassieq.cluster.leadership_changes", 1},
		{"cassieq.allocation.queues", 2},
	}
	for _, tt := range tests {
		if got := sumOf(rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension(t)
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	reg.EmitMessageConsumed(context.Background(), testQueue, &message.Message{DeliveryCount: 3})

	rm := collect(t, reader)
	if got := sumOf(rm, "cassieq.message.consumed"); got != 1 {
		t.Fatalf("consumed = %d, want 1", got)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cassieq.message.delivery_count" {
				continue
			}
			hist := m.Data.(metricdata.Histogram[int64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 3 {
				t.Fatalf("delivery_count histogram = %+v", hist.DataPoints)
			}
			return
		}
	}
	t.Fatal("cassieq.message.delivery_count metric not found")
}
