// Package reader hands out fresh messages to consumers.
//
// A consume walks buckets from the queue version's reader pointer. Rows
// that were never delivered and are visible are claimed with a
// version-gated consume; a lost race just moves on to the next row. Once a
// bucket is sealed (every index in it has been allocated) and has nothing
// left to claim, the reader marks it with a tombstone and moves the reader
// pointer past it. Delivered rows whose visibility lapses are not the
// reader's concern: the repair worker brings them back.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Reader consumes messages for any queue version.
type Reader struct {
	messages  *message.Service
	pointers  *pointer.Pointers
	counter   *monoton.Allocator
	lookahead int
	logger    *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLookahead sets how many buckets one consume may walk.
func WithLookahead(n int) Option {
	return func(r *Reader) { r.lookahead = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// New creates a Reader.
func New(messages *message.Service, pointers *pointer.Pointers, counter *monoton.Allocator, opts ...Option) *Reader {
	r := &Reader{
		messages:  messages,
		pointers:  pointers,
		counter:   counter,
		lookahead: 3,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lookahead < 1 {
		r.lookahead = 1
	}
	return r
}

// Consume claims the next available message of def, hiding it for
// invisibility. It returns nil when nothing is available right now.
func (r *Reader) Consume(ctx context.Context, def *queue.Definition, invisibility time.Duration) (*message.Message, error) {
	q := def.ID()

	bucket, err := r.pointers.Bucket(ctx, q, pointer.Reader)
	if err != nil {
		return nil, fmt.Errorf("cassieq/reader: consume %s: %w", q, err)
	}

	for step := 0; step < r.lookahead; step++ {
		b := message.Bucket{Number: bucket, Size: def.BucketSize}

		m, exhausted, err := r.tryBucket(ctx, q, b, invisibility)
		if err != nil {
			return nil, fmt.Errorf("cassieq/reader: consume %s: %w", q, err)
		}
		if m != nil {
			return m, nil
		}
		if !exhausted {
			return nil, nil
		}

		sealed, err := r.sealed(ctx, q, b)
		if err != nil {
			return nil, fmt.Errorf("cassieq/reader: consume %s: %w", q, err)
		}
		if !sealed {
			return nil, nil
		}

		if err := r.messages.TombstoneBucket(ctx, q, b.Number); err != nil {
			return nil, fmt.Errorf("cassieq/reader: consume %s: %w", q, err)
		}
		next, err := r.pointers.AdvanceBucket(ctx, q, pointer.Reader, b.Number, b.Number+1)
		if err != nil {
			return nil, fmt.Errorf("cassieq/reader: consume %s: %w", q, err)
		}
		r.logger.Debug("reader moved past bucket",
			slog.String("queue", q.String()),
			slog.Uint64("bucket", b.Number),
			slog.Uint64("reader", next),
		)
		bucket = next
	}
	return nil, nil
}

// tryBucket claims the first claimable row of b. exhausted is true when
// the bucket had no row left to claim.
func (r *Reader) tryBucket(ctx context.Context, q queue.ID, b message.Bucket, invisibility time.Duration) (*message.Message, bool, error) {
	rows, err := r.messages.GetBucketContents(ctx, q, b)
	if err != nil {
		return nil, false, err
	}

	now := r.messages.Now()
	for _, row := range rows {
		if !row.Claimable(now) {
			continue
		}
		got, err := r.messages.Consume(ctx, q, row, invisibility)
		if err != nil {
			return nil, false, err
		}
		if got == nil {
			// Another consumer won this row.
			continue
		}
		if _, err := r.pointers.LowerInvisibility(ctx, q, got.Index); err != nil {
			r.logger.Warn("lower invisibility pointer failed",
				slog.String("queue", q.String()),
				slog.Uint64("index", got.Index),
				slog.String("error", err.Error()),
			)
		}
		return got, false, nil
	}
	return nil, true, nil
}

// sealed reports whether every index of b has been allocated.
func (r *Reader) sealed(ctx context.Context, q queue.ID, b message.Bucket) (bool, error) {
	cur, err := r.counter.Current(ctx, q)
	if err != nil {
		return false, err
	}
	return cur >= b.End(), nil
}
