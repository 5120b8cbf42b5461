package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// ── Counter ──

// IncrementCounter moves the counter from expected to expected+1.
func (s *Store) IncrementCounter(ctx context.Context, q queue.ID, expected uint64) (uint64, bool, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.keys.counter(q)}, strconv.FormatUint(expected, 10),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("cassieq/redis: increment counter: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("cassieq/redis: increment counter: unexpected reply %v", res)
	}
	return uint64(res[0]), res[1] == 1, nil
}

// ReadCounter returns the counter of q.
func (s *Store) ReadCounter(ctx context.Context, q queue.ID) (uint64, error) {
	cur, err := s.client.Get(ctx, s.keys.counter(q)).Uint64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cassieq/redis: read counter: %w", err)
	}
	return cur, nil
}

// DeleteCounter removes the counter of q.
func (s *Store) DeleteCounter(ctx context.Context, q queue.ID) error {
	if err := s.client.Del(ctx, s.keys.counter(q)).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: delete counter: %w", err)
	}
	return nil
}

// ── Pointers ──

func pointerField(kind pointer.Kind) string {
	if kind == pointer.Repair {
		return "repair"
	}
	return "reader"
}

// GetBucketPointer returns a bucket pointer of q.
func (s *Store) GetBucketPointer(ctx context.Context, q queue.ID, kind pointer.Kind) (uint64, error) {
	return s.readPointer(ctx, q, pointerField(kind))
}

// AdvanceBucketPointer moves a bucket pointer forward from expected.
func (s *Store) AdvanceBucketPointer(ctx context.Context, q queue.ID, kind pointer.Kind, expected, next uint64) (uint64, error) {
	cur, err := advanceScript.Run(ctx, s.client,
		[]string{s.keys.pointers(q)},
		pointerField(kind), strconv.FormatUint(expected, 10), strconv.FormatUint(next, 10),
	).Uint64()
	if err != nil {
		return 0, fmt.Errorf("cassieq/redis: advance %s pointer: %w", pointerField(kind), err)
	}
	return cur, nil
}

// GetInvisibilityPointer returns the watermark of q.
func (s *Store) GetInvisibilityPointer(ctx context.Context, q queue.ID) (uint64, error) {
	return s.readPointer(ctx, q, "invis")
}

// MoveInvisibilityPointer sets the watermark, taking the minimum on
// conflict.
func (s *Store) MoveInvisibilityPointer(ctx context.Context, q queue.ID, expected, proposed uint64) (uint64, error) {
	cur, err := moveMinScript.Run(ctx, s.client,
		[]string{s.keys.pointers(q)},
		strconv.FormatUint(expected, 10), strconv.FormatUint(proposed, 10),
	).Uint64()
	if err != nil {
		return 0, fmt.Errorf("cassieq/redis: move invisibility pointer: %w", err)
	}
	return cur, nil
}

// DeletePointers removes every pointer of q.
func (s *Store) DeletePointers(ctx context.Context, q queue.ID) error {
	if err := s.client.Del(ctx, s.keys.pointers(q)).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: delete pointers: %w", err)
	}
	return nil
}

func (s *Store) readPointer(ctx context.Context, q queue.ID, field string) (uint64, error) {
	cur, err := s.client.HGet(ctx, s.keys.pointers(q), field).Uint64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cassieq/redis: read %s pointer: %w", field, err)
	}
	return cur, nil
}
