package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Service provides message operations over a Store. Puts are retried
// under the configured policy; they are idempotent because a retry carries
// the same creation identity. Conditional updates are not retried: a lost
// condition is an answer, not a failure.
type Service struct {
	store  Store
	clock  clock.Clock
	policy backoff.Policy
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for visibility deadlines.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPolicy sets the retry policy for puts and reads.
func WithPolicy(p backoff.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService creates a message service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		clock:  clock.System{},
		policy: backoff.Policy{MaxRetries: 5},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Clock == nil {
		s.policy.Clock = s.clock
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Store returns the underlying message store.
func (s *Service) Store() Store { return s.store }

// Put writes a new row at index. deliveryCount is zero for producer puts
// and carries the previous count when the repair worker requeues a row.
func (s *Service) Put(ctx context.Context, def *queue.Definition, index uint64, payload []byte, initialInvisibility time.Duration, deliveryCount int) (*Message, error) {
	now := s.clock.Now()
	m := &Message{
		Index:         index,
		Bucket:        def.BucketOf(index),
		Payload:       payload,
		DeliveryCount: deliveryCount,
		Tag:           id.NewTag().String(),
		CreatedBy:     id.NewMessageID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if initialInvisibility > 0 {
		until := now.Add(initialInvisibility)
		m.InvisibleUntil = &until
	}

	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) error {
		err := s.store.PutMessage(ctx, def.ID(), m)
		if errors.Is(err, cassieq.ErrMessageConflict) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: put %s@%d: %w", def.ID(), index, err)
	}
	return m, nil
}

// Get returns the row at index.
func (s *Service) Get(ctx context.Context, q queue.ID, index uint64) (*Message, error) {
	var m *Message
	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) (err error) {
		m, err = s.store.GetMessage(ctx, q, index)
		if errors.Is(err, cassieq.ErrMessageNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: get %s@%d: %w", q, index, err)
	}
	return m, nil
}

// Consume attempts to deliver m, hiding it for invisibility. It returns
// nil when m is no longer visible or another consumer won the race.
func (s *Service) Consume(ctx context.Context, q queue.ID, m *Message, invisibility time.Duration) (*Message, error) {
	now := s.clock.Now()
	out, err := s.store.ConsumeMessage(ctx, q, m.Index, m.Version, now, now.Add(invisibility), id.NewTag().String())
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: consume %s@%d: %w", q, m.Index, err)
	}
	return out, nil
}

// Ack tombstones the row at index if it still has version.
func (s *Service) Ack(ctx context.Context, q queue.ID, index uint64, version int) (bool, error) {
	ok, err := s.store.AckMessage(ctx, q, index, version, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("cassieq/message: ack %s@%d: %w", q, index, err)
	}
	return ok, nil
}

// UpdateVisibility hides the row for visibility from now, optionally
// replacing its payload. It returns nil when version is stale.
func (s *Service) UpdateVisibility(ctx context.Context, q queue.ID, index uint64, version int, visibility time.Duration, payload []byte) (*Message, error) {
	now := s.clock.Now()
	out, err := s.store.UpdateMessageVisibility(ctx, q, index, version, now.Add(visibility), payload, id.NewTag().String(), now)
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: update visibility %s@%d: %w", q, index, err)
	}
	return out, nil
}

// UpdateByTag replaces the payload of a row holding tag. It returns nil
// when the tag is stale.
func (s *Service) UpdateByTag(ctx context.Context, q queue.ID, index uint64, tag string, payload []byte) (*Message, error) {
	out, err := s.store.UpdateMessageByTag(ctx, q, index, tag, payload, id.NewTag().String(), s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: update by tag %s@%d: %w", q, index, err)
	}
	return out, nil
}

// GetBucketContents returns every row of b, including tombstoned ones.
func (s *Service) GetBucketContents(ctx context.Context, q queue.ID, b Bucket) ([]*Message, error) {
	var msgs []*Message
	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) (err error) {
		msgs, err = s.store.GetBucketContents(ctx, q, b)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: bucket %s#%d: %w", q, b.Number, err)
	}
	return msgs, nil
}

// GetMessages returns the rows of b that are not tombstoned.
func (s *Service) GetMessages(ctx context.Context, q queue.ID, b Bucket) ([]*Message, error) {
	msgs, err := s.GetBucketContents(ctx, q, b)
	if err != nil {
		return nil, err
	}
	return Live(msgs), nil
}

// TombstoneBucket records that the reader moved past bucket.
func (s *Service) TombstoneBucket(ctx context.Context, q queue.ID, bucket uint64) error {
	now := s.clock.Now()
	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) error {
		return s.store.TombstoneBucket(ctx, q, bucket, now)
	})
	if err != nil {
		return fmt.Errorf("cassieq/message: tombstone bucket %s#%d: %w", q, bucket, err)
	}
	return nil
}

// TombstoneExists returns when bucket was tombstoned, or nil.
func (s *Service) TombstoneExists(ctx context.Context, q queue.ID, bucket uint64) (*time.Time, error) {
	var at *time.Time
	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) (err error) {
		at, err = s.store.BucketTombstone(ctx, q, bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/message: bucket tombstone %s#%d: %w", q, bucket, err)
	}
	return at, nil
}

// DeleteAll removes every row of b and its tombstone marker.
func (s *Service) DeleteAll(ctx context.Context, q queue.ID, b Bucket) error {
	err := backoff.Retry(ctx, s.policy, func(ctx context.Context) error {
		return s.store.DeleteBucket(ctx, q, b)
	})
	if err != nil {
		return fmt.Errorf("cassieq/message: delete bucket %s#%d: %w", q, b.Number, err)
	}
	return nil
}
