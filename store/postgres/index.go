package postgres

import (
	"context"
	"fmt"

	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// ── Counter ──

// IncrementCounter moves the counter from expected to expected+1. An
// absent counter holds 0, so only expected == 0 may create it.
func (s *Store) IncrementCounter(ctx context.Context, q queue.ID, expected uint64) (uint64, bool, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cassieq_counters AS c (queue_id, next_index)
		SELECT $1, $2::BIGINT + 1 WHERE $2::BIGINT = 0
		ON CONFLICT (queue_id) DO UPDATE SET next_index = c.next_index + 1
			WHERE c.next_index = $2::BIGINT
		RETURNING next_index`,
		q.String(), int64(expected),
	).Scan(&next)
	if err == nil {
		return uint64(next), true, nil
	}
	if !isNoRows(err) {
		return 0, false, fmt.Errorf("cassieq/postgres: increment counter: %w", err)
	}
	cur, err := s.ReadCounter(ctx, q)
	return cur, false, err
}

// ReadCounter returns the counter of q.
func (s *Store) ReadCounter(ctx context.Context, q queue.ID) (uint64, error) {
	var cur int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_index FROM cassieq_counters WHERE queue_id = $1`, q.String(),
	).Scan(&cur)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cassieq/postgres: read counter: %w", err)
	}
	return uint64(cur), nil
}

// DeleteCounter removes the counter of q.
func (s *Store) DeleteCounter(ctx context.Context, q queue.ID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cassieq_counters WHERE queue_id = $1`, q.String()); err != nil {
		return fmt.Errorf("cassieq/postgres: delete counter: %w", err)
	}
	return nil
}

// ── Pointers ──

const invisKind = "invis"

func pointerKind(kind pointer.Kind) string {
	if kind == pointer.Repair {
		return "repair"
	}
	return "reader"
}

// GetBucketPointer returns a bucket pointer of q.
func (s *Store) GetBucketPointer(ctx context.Context, q queue.ID, kind pointer.Kind) (uint64, error) {
	return s.readPointer(ctx, q, pointerKind(kind))
}

// AdvanceBucketPointer moves a bucket pointer forward from expected.
func (s *Store) AdvanceBucketPointer(ctx context.Context, q queue.ID, kind pointer.Kind, expected, next uint64) (uint64, error) {
	var cur int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cassieq_pointers AS p (queue_id, kind, value)
		SELECT $1, $2, $4::BIGINT WHERE $3::BIGINT = 0 AND $4::BIGINT > $3::BIGINT
		ON CONFLICT (queue_id, kind) DO UPDATE SET value = EXCLUDED.value
			WHERE p.value = $3::BIGINT AND EXCLUDED.value > $3::BIGINT
		RETURNING value`,
		q.String(), pointerKind(kind), int64(expected), int64(next),
	).Scan(&cur)
	if err == nil {
		return uint64(cur), nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("cassieq/postgres: advance %s pointer: %w", pointerKind(kind), err)
	}
	return s.readPointer(ctx, q, pointerKind(kind))
}

// GetInvisibilityPointer returns the watermark of q.
func (s *Store) GetInvisibilityPointer(ctx context.Context, q queue.ID) (uint64, error) {
	return s.readPointer(ctx, q, invisKind)
}

// MoveInvisibilityPointer sets the watermark, taking the minimum on
// conflict.
func (s *Store) MoveInvisibilityPointer(ctx context.Context, q queue.ID, expected, proposed uint64) (uint64, error) {
	var cur int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cassieq_pointers AS p (queue_id, kind, value)
		VALUES ($1, $2, CASE WHEN $3::BIGINT = 0 THEN $4::BIGINT ELSE 0 END)
		ON CONFLICT (queue_id, kind) DO UPDATE SET value =
			CASE WHEN p.value = $3::BIGINT THEN $4::BIGINT ELSE LEAST(p.value, $4::BIGINT) END
		RETURNING value`,
		q.String(), invisKind, int64(expected), int64(proposed),
	).Scan(&cur)
	if err != nil {
		return 0, fmt.Errorf("cassieq/postgres: move invisibility pointer: %w", err)
	}
	return uint64(cur), nil
}

// DeletePointers removes every pointer of q.
func (s *Store) DeletePointers(ctx context.Context, q queue.ID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cassieq_pointers WHERE queue_id = $1`, q.String()); err != nil {
		return fmt.Errorf("cassieq/postgres: delete pointers: %w", err)
	}
	return nil
}

func (s *Store) readPointer(ctx context.Context, q queue.ID, kind string) (uint64, error) {
	var cur int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cassieq_pointers WHERE queue_id = $1 AND kind = $2`, q.String(), kind,
	).Scan(&cur)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cassieq/postgres: read %s pointer: %w", kind, err)
	}
	return uint64(cur), nil
}
