// Package monoton allocates the strictly increasing message indices of a
// queue version.
//
// The counter record holds the next index to hand out, so a fresh or
// reset queue version reads 0 ("no data") and its first message gets
// index 0. Allocation is a compare-and-increment on that single record;
// a lost race re-reads and retries under a bounded backoff policy.
package monoton

import (
	"context"
	"fmt"
	"log/slog"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Index is a message position within one queue version.
type Index = uint64

// Store defines the persistence contract for monotonic counters.
type Store interface {
	// IncrementCounter stores expected+1 only if the counter currently
	// holds expected (an absent counter holds 0). It returns the stored
	// value after the call and whether the increment was applied.
	IncrementCounter(ctx context.Context, q queue.ID, expected uint64) (current uint64, ok bool, err error)

	// ReadCounter returns the counter, 0 when absent.
	ReadCounter(ctx context.Context, q queue.ID) (uint64, error)

	// DeleteCounter removes the counter of q.
	DeleteCounter(ctx context.Context, q queue.ID) error
}

// Allocator hands out indices for queue versions.
type Allocator struct {
	store  Store
	policy backoff.Policy
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithPolicy sets the retry policy used under contention.
func WithPolicy(p backoff.Policy) Option {
	return func(a *Allocator) { a.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// New creates an Allocator over store.
func New(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		policy: backoff.Policy{MaxRetries: 10},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next allocates the next index of q. It never skips or duplicates an
// index: the returned value is exactly the one this caller incremented
// past. Exhausting the retry budget returns cassieq.ErrTransient.
func (a *Allocator) Next(ctx context.Context, q queue.ID) (Index, error) {
	var (
		expected uint64
		loaded   bool
		idx      Index
	)
	err := backoff.Retry(ctx, a.policy, func(ctx context.Context) error {
		if !loaded {
			cur, err := a.store.ReadCounter(ctx, q)
			if err != nil {
				return err
			}
			expected, loaded = cur, true
		}

		current, ok, err := a.store.IncrementCounter(ctx, q, expected)
		if err != nil {
			loaded = false
			return err
		}
		if !ok {
			// The store told us where the counter is; retry from there.
			expected = current
			return cassieq.ErrContention
		}
		idx = expected
		return nil
	})
	if err != nil {
		a.logger.Warn("index allocation failed",
			slog.String("queue", q.String()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("cassieq/monoton: next %s: %w", q, err)
	}
	return idx, nil
}

// Current returns the next index to be handed out without allocating it.
// Every index below the result has been allocated.
func (a *Allocator) Current(ctx context.Context, q queue.ID) (Index, error) {
	cur, err := a.store.ReadCounter(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("cassieq/monoton: current %s: %w", q, err)
	}
	return cur, nil
}

// Reset deletes the counter of q. Only the deletion job of q calls it.
func (a *Allocator) Reset(ctx context.Context, q queue.ID) error {
	if err := a.store.DeleteCounter(ctx, q); err != nil {
		return fmt.Errorf("cassieq/monoton: reset %s: %w", q, err)
	}
	return nil
}
