package ext

import (
	"context"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Message hooks
// ──────────────────────────────────────────────────

// MessagePut is called after a producer's message is stored.
type MessagePut interface {
	OnMessagePut(ctx context.Context, q queue.ID, m *message.Message) error
}

// MessageConsumed is called after a message is delivered.
type MessageConsumed interface {
	OnMessageConsumed(ctx context.Context, q queue.ID, m *message.Message) error
}

// MessageAcked is called after a delivery is acknowledged.
type MessageAcked interface {
	OnMessageAcked(ctx context.Context, q queue.ID, index uint64) error
}

// MessageRequeued is called when the repair worker republishes an
// abandoned or stranded row at a new index.
type MessageRequeued interface {
	OnMessageRequeued(ctx context.Context, q queue.ID, from *message.Message, toIndex uint64) error
}

// PoisonMessage is called when a row is tombstoned for exceeding its
// queue's maximum delivery count.
type PoisonMessage interface {
	OnPoisonMessage(ctx context.Context, q queue.ID, m *message.Message, entry *dlq.Entry) error
}

// ──────────────────────────────────────────────────
// Queue hooks
// ──────────────────────────────────────────────────

// QueueCreated is called after a queue version is created.
type QueueCreated interface {
	OnQueueCreated(ctx context.Context, def *queue.Definition) error
}

// QueueDeleting is called after a queue version is marked deleting.
type QueueDeleting interface {
	OnQueueDeleting(ctx context.Context, def *queue.Definition) error
}

// QueueDeleted is called after the deletion job of a version finishes.
type QueueDeleted interface {
	OnQueueDeleted(ctx context.Context, q queue.ID) error
}

// BucketRetired is called when the repair worker moves past a drained
// bucket.
type BucketRetired interface {
	OnBucketRetired(ctx context.Context, q queue.ID, bucket uint64) error
}

// ──────────────────────────────────────────────────
// Cluster hooks
// ──────────────────────────────────────────────────

// LeadershipChanged is called when this node gains or loses a role.
type LeadershipChanged interface {
	OnLeadershipChanged(ctx context.Context, role cluster.Role, leader bool) error
}

// AllocationChanged is called after an allocation tick changes the set of
// queues this node serves.
type AllocationChanged interface {
	OnAllocationChanged(ctx context.Context, acquired, released []string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
