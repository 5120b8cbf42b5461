// Package pointer holds the three cursors of a queue version: the reader
// and repair bucket pointers, which only move forward, and the
// invisibility watermark, which tracks the lowest index that may still be
// in flight.
//
// The two kinds of cursor deliberately use two different operations.
// AdvanceBucket is a strict forward compare-and-swap; MoveInvisibility
// resolves a conflict by taking the minimum. Mixing them up would either
// let the watermark skip an in-flight message or let a bucket pointer move
// backwards.
package pointer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Kind names a bucket pointer.
type Kind string

const (
	// Reader is where consumers look for new messages.
	Reader Kind = "reader"
	// Repair is where the repair worker looks for abandoned deliveries.
	Repair Kind = "repair"
)

// Store defines the persistence contract for queue pointers. Absent
// pointers read as 0.
type Store interface {
	// GetBucketPointer returns the bucket stored for kind.
	GetBucketPointer(ctx context.Context, q queue.ID, kind Kind) (uint64, error)

	// AdvanceBucketPointer stores next only if the pointer holds expected
	// and next > expected. It returns the stored value after the call.
	AdvanceBucketPointer(ctx context.Context, q queue.ID, kind Kind, expected, next uint64) (uint64, error)

	// GetInvisibilityPointer returns the watermark index.
	GetInvisibilityPointer(ctx context.Context, q queue.ID) (uint64, error)

	// MoveInvisibilityPointer stores proposed if the watermark holds
	// expected; otherwise it stores min(stored, proposed). It returns the
	// stored value after the call.
	MoveInvisibilityPointer(ctx context.Context, q queue.ID, expected, proposed uint64) (uint64, error)

	// DeletePointers removes every pointer of q.
	DeletePointers(ctx context.Context, q queue.ID) error
}

// Pointers wraps a Store with retries for transient failures. Lost races
// are not failures: the stored value is returned and is authoritative.
type Pointers struct {
	store  Store
	policy backoff.Policy
	logger *slog.Logger
}

// Option configures Pointers.
type Option func(*Pointers)

// WithPolicy sets the retry policy for transient failures.
func WithPolicy(p backoff.Policy) Option {
	return func(ps *Pointers) { ps.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ps *Pointers) { ps.logger = l }
}

// New creates Pointers over store.
func New(store Store, opts ...Option) *Pointers {
	ps := &Pointers{
		store:  store,
		policy: backoff.Policy{MaxRetries: 10},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Bucket returns the current value of a bucket pointer.
func (ps *Pointers) Bucket(ctx context.Context, q queue.ID, kind Kind) (uint64, error) {
	var v uint64
	err := backoff.Retry(ctx, ps.policy, func(ctx context.Context) (err error) {
		v, err = ps.store.GetBucketPointer(ctx, q, kind)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cassieq/pointer: get %s %s: %w", kind, q, err)
	}
	return v, nil
}

// AdvanceBucket moves a bucket pointer from expected to next. The result
// is the pointer's value afterwards: next when this call won, or whatever
// another worker already stored. Callers continue from the result either
// way. A next that is not ahead of expected never writes.
func (ps *Pointers) AdvanceBucket(ctx context.Context, q queue.ID, kind Kind, expected, next uint64) (uint64, error) {
	if next <= expected {
		return ps.Bucket(ctx, q, kind)
	}

	var actual uint64
	err := backoff.Retry(ctx, ps.policy, func(ctx context.Context) (err error) {
		actual, err = ps.store.AdvanceBucketPointer(ctx, q, kind, expected, next)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cassieq/pointer: advance %s %s: %w", kind, q, err)
	}
	if actual != next {
		ps.logger.Debug("bucket pointer advance lost",
			slog.String("queue", q.String()),
			slog.String("pointer", string(kind)),
			slog.Uint64("expected", expected),
			slog.Uint64("actual", actual),
		)
	}
	return actual, nil
}

// Invisibility returns the watermark index.
func (ps *Pointers) Invisibility(ctx context.Context, q queue.ID) (uint64, error) {
	var v uint64
	err := backoff.Retry(ctx, ps.policy, func(ctx context.Context) (err error) {
		v, err = ps.store.GetInvisibilityPointer(ctx, q)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cassieq/pointer: get invisibility %s: %w", q, err)
	}
	return v, nil
}

// MoveInvisibility moves the watermark from expected to proposed. If
// another worker changed the watermark in the meantime the lower of the
// two values wins, so an in-flight index recorded concurrently is never
// skipped.
func (ps *Pointers) MoveInvisibility(ctx context.Context, q queue.ID, expected, proposed uint64) (uint64, error) {
	var actual uint64
	err := backoff.Retry(ctx, ps.policy, func(ctx context.Context) (err error) {
		actual, err = ps.store.MoveInvisibilityPointer(ctx, q, expected, proposed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cassieq/pointer: move invisibility %s: %w", q, err)
	}
	return actual, nil
}

// LowerInvisibility pulls the watermark down to index if it is above it.
func (ps *Pointers) LowerInvisibility(ctx context.Context, q queue.ID, index uint64) (uint64, error) {
	current, err := ps.Invisibility(ctx, q)
	if err != nil {
		return 0, err
	}
	if index >= current {
		return current, nil
	}
	return ps.MoveInvisibility(ctx, q, current, index)
}

// Reset deletes every pointer of q. Only the deletion job of q calls it.
func (ps *Pointers) Reset(ctx context.Context, q queue.ID) error {
	if err := ps.store.DeletePointers(ctx, q); err != nil {
		return fmt.Errorf("cassieq/pointer: reset %s: %w", q, err)
	}
	return nil
}
