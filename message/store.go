package message

import (
	"context"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Store defines the persistence contract for message rows. Every
// conditional operation reports a lost condition as a nil result or
// false, never as an error. Acks and updates of a missing row return
// cassieq.ErrMessageNotFound; a consume of a missing row is a lost race.
type Store interface {
	// PutMessage inserts m at m.Index. If a row already exists with the
	// same CreatedBy the call succeeds without writing; a row with a
	// different CreatedBy returns cassieq.ErrMessageConflict.
	PutMessage(ctx context.Context, q queue.ID, m *Message) error

	// GetMessage returns the row at index or cassieq.ErrMessageNotFound.
	GetMessage(ctx context.Context, q queue.ID, index uint64) (*Message, error)

	// ConsumeMessage delivers the row at index if it still has version,
	// is not tombstoned and is visible at now. On success the row gets
	// invisibleUntil, DeliveryCount+1, Version+1 and tag.
	ConsumeMessage(ctx context.Context, q queue.ID, index uint64, version int, now, invisibleUntil time.Time, tag string) (*Message, error)

	// AckMessage tombstones the row at index if it still has version and
	// is not already tombstoned.
	AckMessage(ctx context.Context, q queue.ID, index uint64, version int, at time.Time) (bool, error)

	// UpdateMessageVisibility sets invisibleUntil (and payload, when not
	// nil) on a row that still has version and is not tombstoned. The
	// version is bumped and the tag replaced.
	UpdateMessageVisibility(ctx context.Context, q queue.ID, index uint64, version int, invisibleUntil time.Time, payload []byte, tag string, at time.Time) (*Message, error)

	// UpdateMessageByTag replaces the payload of a row whose tag still
	// matches and which is not tombstoned. The version is left alone, so
	// outstanding pop receipts stay valid; the tag is replaced.
	UpdateMessageByTag(ctx context.Context, q queue.ID, index uint64, tag string, payload []byte, newTag string, at time.Time) (*Message, error)

	// GetBucketContents returns every row in b, tombstoned or not,
	// ordered by index.
	GetBucketContents(ctx context.Context, q queue.ID, b Bucket) ([]*Message, error)

	// TombstoneBucket records that the reader has moved past bucket. The
	// earliest recorded time is kept.
	TombstoneBucket(ctx context.Context, q queue.ID, bucket uint64, at time.Time) error

	// BucketTombstone returns when bucket was tombstoned, or nil.
	BucketTombstone(ctx context.Context, q queue.ID, bucket uint64) (*time.Time, error)

	// DeleteBucket removes every row of b and its tombstone marker.
	DeleteBucket(ctx context.Context, q queue.ID, b Bucket) error
}
