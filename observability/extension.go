package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/ext"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// meterName is the instrumentation scope of the extension.
const meterName = "github.com/paradoxical-io/cassieq-sub001/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.MessagePut        = (*MetricsExtension)(nil)
	_ ext.MessageConsumed   = (*MetricsExtension)(nil)
	_ ext.MessageAcked      = (*MetricsExtension)(nil)
	_ ext.MessageRequeued   = (*MetricsExtension)(nil)
	_ ext.PoisonMessage     = (*MetricsExtension)(nil)
	_ ext.QueueCreated      = (*MetricsExtension)(nil)
	_ ext.QueueDeleting     = (*MetricsExtension)(nil)
	_ ext.QueueDeleted      = (*MetricsExtension)(nil)
	_ ext.BucketRetired     = (*MetricsExtension)(nil)
	_ ext.LeadershipChanged = (*MetricsExtension)(nil)
	_ ext.AllocationChanged = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics with OTel
// counters. Message counters carry the account as an attribute; queue
// names are left off to bound cardinality.
type MetricsExtension struct {
	MessagesPut       metric.Int64Counter
	MessagesConsumed  metric.Int64Counter
	MessagesAcked     metric.Int64Counter
	MessagesRequeued  metric.Int64Counter
	PoisonMessages    metric.Int64Counter
	DeliveryCount     metric.Int64Histogram
	BucketsRetired    metric.Int64Counter
	QueuesCreated     metric.Int64Counter
	QueuesDeleting    metric.Int64Counter
	QueuesDeleted     metric.Int64Counter
	LeadershipChanges metric.Int64Counter
	AllocatedQueues   metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc, unit string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}
	deliveries, _ := meter.Int64Histogram("cassieq.message.delivery_count",
		metric.WithDescription("Delivery count of messages at consume time"),
		metric.WithUnit("{delivery}"),
	)
	allocated, _ := meter.Int64UpDownCounter("cassieq.allocation.queues",
		metric.WithDescription("Queue versions whose workers run on this node"),
		metric.WithUnit("{queue}"),
	)

	return &MetricsExtension{
		MessagesPut:       counter("cassieq.message.put", "Messages stored by producers", "{message}"),
		MessagesConsumed:  counter("cassieq.message.consumed", "Messages delivered to consumers", "{message}"),
		MessagesAcked:     counter("cassieq.message.acked", "Deliveries acknowledged", "{message}"),
		MessagesRequeued:  counter("cassieq.message.requeued", "Abandoned messages brought back by repair", "{message}"),
		PoisonMessages:    counter("cassieq.message.poison", "Messages tombstoned after too many deliveries", "{message}"),
		DeliveryCount:     deliveries,
		BucketsRetired:    counter("cassieq.bucket.retired", "Buckets retired by repair", "{bucket}"),
		QueuesCreated:     counter("cassieq.queue.created", "Queue versions created", "{queue}"),
		QueuesDeleting:    counter("cassieq.queue.deleting", "Queue versions marked deleting", "{queue}"),
		QueuesDeleted:     counter("cassieq.queue.deleted", "Queue versions whose deletion finished", "{queue}"),
		LeadershipChanges: counter("cassieq.cluster.leadership_changes", "Roles gained or lost by this node", "{change}"),
		AllocatedQueues:   allocated,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func account(q queue.ID) metric.AddOption {
	return metric.WithAttributes(attribute.String("account", q.Account))
}

// ── Message hooks ───────────────────────────────────

// OnMessagePut implements ext.MessagePut.
func (m *MetricsExtension) OnMessagePut(ctx context.Context, q queue.ID, _ *message.Message) error {
	m.MessagesPut.Add(ctx, 1, account(q))
	return nil
}

// OnMessageConsumed implements ext.MessageConsumed.
func (m *MetricsExtension) OnMessageConsumed(ctx context.Context, q queue.ID, msg *message.Message) error {
	m.MessagesConsumed.Add(ctx, 1, account(q))
	m.DeliveryCount.Record(ctx, int64(msg.DeliveryCount), metric.WithAttributes(attribute.String("account", q.Account)))
	return nil
}

// OnMessageAcked implements ext.MessageAcked.
func (m *MetricsExtension) OnMessageAcked(ctx context.Context, q queue.ID, _ uint64) error {
	m.MessagesAcked.Add(ctx, 1, account(q))
	return nil
}

// OnMessageRequeued implements ext.MessageRequeued.
func (m *MetricsExtension) OnMessageRequeued(ctx context.Context, q queue.ID, _ *message.Message, _ uint64) error {
	m.MessagesRequeued.Add(ctx, 1, account(q))
	return nil
}

// OnPoisonMessage implements ext.PoisonMessage.
func (m *MetricsExtension) OnPoisonMessage(ctx context.Context, q queue.ID, _ *message.Message, _ *dlq.Entry) error {
	m.PoisonMessages.Add(ctx, 1, account(q))
	return nil
}

// ── Queue hooks ─────────────────────────────────────

// OnQueueCreated implements ext.QueueCreated.
func (m *MetricsExtension) OnQueueCreated(ctx context.Context, _ *queue.Definition) error {
	m.QueuesCreated.Add(ctx, 1)
	return nil
}

// OnQueueDeleting implements ext.QueueDeleting.
func (m *MetricsExtension) OnQueueDeleting(ctx context.Context, _ *queue.Definition) error {
	m.QueuesDeleting.Add(ctx, 1)
	return nil
}

// OnQueueDeleted implements ext.QueueDeleted.
func (m *MetricsExtension) OnQueueDeleted(ctx context.Context, _ queue.ID) error {
	m.QueuesDeleted.Add(ctx, 1)
	return nil
}

// OnBucketRetired implements ext.BucketRetired.
func (m *MetricsExtension) OnBucketRetired(ctx context.Context, q queue.ID, _ uint64) error {
	m.BucketsRetired.Add(ctx, 1, account(q))
	return nil
}

// ── Cluster hooks ───────────────────────────────────

// OnLeadershipChanged implements ext.LeadershipChanged.
func (m *MetricsExtension) OnLeadershipChanged(ctx context.Context, role cluster.Role, leader bool) error {
	m.LeadershipChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.Bool("leader", leader),
	))
	return nil
}

// OnAllocationChanged implements ext.AllocationChanged.
func (m *MetricsExtension) OnAllocationChanged(ctx context.Context, acquired, released []string) error {
	m.AllocatedQueues.Add(ctx, int64(len(acquired)-len(released)))
	return nil
}
