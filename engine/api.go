package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/repair"
)

// Compile-time check: the engine forwards poison messages and replays DLQ
// entries through its own Put.
var _ dlq.Publisher = (*Engine)(nil)

// Delivery is a message handed to a consumer.
type Delivery struct {
	Index         uint64
	Payload       []byte
	PopReceipt    message.PopReceipt
	DeliveryCount int
	Tag           string
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// Put appends payload to the active version of ref and returns its index.
// A positive initialInvisibility hides the message for that long.
func (eng *Engine) Put(ctx context.Context, ref queue.Ref, payload []byte, initialInvisibility time.Duration) (uint64, error) {
	if !eng.limiter.Allow(ref) {
		return 0, fmt.Errorf("cassieq/engine: put %s: %w", ref, cassieq.ErrThrottled)
	}
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return 0, err
	}
	q := def.ID()

	idx, err := eng.counter.Next(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("cassieq/engine: put %s: %w", q, err)
	}
	m, err := eng.messages.Put(ctx, def, idx, payload, initialInvisibility, 0)
	if err != nil {
		return 0, fmt.Errorf("cassieq/engine: put %s: %w", q, err)
	}

	eng.extensions.EmitMessagePut(ctx, q, m)
	return idx, nil
}

// Consume delivers the next available message of ref and hides it for
// visibility. It returns nil when the queue has nothing to deliver.
func (eng *Engine) Consume(ctx context.Context, ref queue.Ref, visibility time.Duration) (*Delivery, error) {
	if !eng.limiter.Allow(ref) {
		return nil, fmt.Errorf("cassieq/engine: consume %s: %w", ref, cassieq.ErrThrottled)
	}
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return nil, err
	}

	m, err := eng.reader.Consume(ctx, def, visibility)
	if err != nil || m == nil {
		return nil, err
	}

	eng.extensions.EmitMessageConsumed(ctx, def.ID(), m)
	return &Delivery{
		Index:         m.Index,
		Payload:       m.Payload,
		PopReceipt:    m.Receipt(),
		DeliveryCount: m.DeliveryCount,
		Tag:           m.Tag,
	}, nil
}

// Ack acknowledges the delivery named by receipt. It returns false when
// the receipt is stale: the message was acked, extended or reclaimed
// since it was issued.
func (eng *Engine) Ack(ctx context.Context, ref queue.Ref, receipt message.PopReceipt) (bool, error) {
	index, version, err := message.DecodeReceipt(receipt)
	if err != nil {
		return false, err
	}
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return false, err
	}
	q := def.ID()

	ok, err := eng.messages.Ack(ctx, q, index, version)
	if err != nil || !ok {
		return false, err
	}

	eng.extensions.EmitMessageAcked(ctx, q, index)
	return true, nil
}

// Update hides the delivery named by receipt for visibility from now and,
// when payload is not nil, replaces its payload. It returns the new
// receipt; the old one is stale afterwards. A stale receipt fails with
// cassieq.ErrStaleReceipt.
func (eng *Engine) Update(ctx context.Context, ref queue.Ref, receipt message.PopReceipt, payload *[]byte, visibility time.Duration) (message.PopReceipt, error) {
	index, version, err := message.DecodeReceipt(receipt)
	if err != nil {
		return "", err
	}
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return "", err
	}
	q := def.ID()

	var body []byte
	if payload != nil {
		body = *payload
		if body == nil {
			body = []byte{}
		}
	}

	m, err := eng.messages.UpdateVisibility(ctx, q, index, version, visibility, body)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("cassieq/engine: update %s@%d: %w", q, index, cassieq.ErrStaleReceipt)
	}
	return m.Receipt(), nil
}

// UpdateByTag replaces the payload of the message at index if it still
// carries tag, without touching its visibility. It returns the new tag. A
// stale tag fails with cassieq.ErrStaleReceipt.
func (eng *Engine) UpdateByTag(ctx context.Context, ref queue.Ref, index uint64, tag string, payload []byte) (string, error) {
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return "", err
	}
	q := def.ID()

	m, err := eng.messages.UpdateByTag(ctx, q, index, tag, payload)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("cassieq/engine: update by tag %s@%d: %w", q, index, cassieq.ErrStaleReceipt)
	}
	return m.Tag, nil
}

// ──────────────────────────────────────────────────
// Queues
// ──────────────────────────────────────────────────

// CreateQueue creates a new active version of ref.
func (eng *Engine) CreateQueue(ctx context.Context, ref queue.Ref, opts ...queue.Option) (*queue.Definition, error) {
	return eng.lifecycle.Create(ctx, ref, opts...)
}

// DeleteQueue marks the active version of ref deleting and returns. Its
// rows are erased in the background.
func (eng *Engine) DeleteQueue(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	return eng.lifecycle.Delete(ctx, ref)
}

// GetQueue returns the active version of ref.
func (eng *Engine) GetQueue(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	return eng.lifecycle.Active(ctx, ref)
}

// ListQueues returns queue definitions in status, or all of them for "".
func (eng *Engine) ListQueues(ctx context.Context, status queue.Status) ([]*queue.Definition, error) {
	return eng.lifecycle.List(ctx, status)
}

// QueueSize counts the unacknowledged messages of ref's active version.
// ok is false when ref has no active version.
func (eng *Engine) QueueSize(ctx context.Context, ref queue.Ref) (size int64, ok bool, err error) {
	def, err := eng.lifecycle.Active(ctx, ref)
	if errors.Is(err, cassieq.ErrQueueNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return eng.lifecycle.Size(ctx, def.ID())
}

// VersionSize counts the unacknowledged messages of one queue version. ok
// is false when q is not active.
func (eng *Engine) VersionSize(ctx context.Context, q queue.ID) (size int64, ok bool, err error) {
	return eng.lifecycle.Size(ctx, q)
}

// RepairQueue runs one repair sweep over the active version of ref now,
// independent of the allocation.
func (eng *Engine) RepairQueue(ctx context.Context, ref queue.Ref) (repair.Result, error) {
	def, err := eng.lifecycle.Active(ctx, ref)
	if err != nil {
		return repair.Result{}, err
	}
	return eng.repairer.Sweep(ctx, def)
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

// ListDLQ returns poison reports matching opts, oldest first.
func (eng *Engine) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.dlq.DLQStore().ListDLQ(ctx, opts)
}

// ReplayDLQ puts a poison report's payload back into the active version of
// its queue and returns the new index.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (uint64, error) {
	index, err := eng.dlq.Replay(ctx, eng, entryID)
	if err != nil {
		return index, fmt.Errorf("cassieq/engine: replay %s: %w", entryID, err)
	}
	return index, nil
}
