package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

const messageColumns = `
	idx, bucket, version, payload, delivery_count, invisible_until,
	tag, tombstoned, created_by, created_at, updated_at`

// PutMessage inserts a row if its index is free.
func (s *Store) PutMessage(ctx context.Context, q queue.ID, m *message.Message) error {
	payload := m.Payload
	if payload == nil {
		payload = []byte{}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cassieq_messages (queue_id, `+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (queue_id, idx) DO NOTHING`,
		q.String(), int64(m.Index), int64(m.Bucket), m.Version, payload, m.DeliveryCount,
		m.InvisibleUntil, m.Tag, m.Tombstoned, m.CreatedBy.String(), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: put message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var createdBy string
	err = s.pool.QueryRow(ctx,
		`SELECT created_by FROM cassieq_messages WHERE queue_id = $1 AND idx = $2`,
		q.String(), int64(m.Index),
	).Scan(&createdBy)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: put message identity: %w", err)
	}
	if createdBy != m.CreatedBy.String() {
		return cassieq.ErrMessageConflict
	}
	return nil
}

// GetMessage returns the row at index.
func (s *Store) GetMessage(ctx context.Context, q queue.ID, index uint64) (*message.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM cassieq_messages WHERE queue_id = $1 AND idx = $2`,
		q.String(), int64(index),
	)
	m, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cassieq.ErrMessageNotFound
		}
		return nil, fmt.Errorf("cassieq/postgres: get message: %w", err)
	}
	return m, nil
}

// ConsumeMessage delivers a visible row that still has version.
func (s *Store) ConsumeMessage(ctx context.Context, q queue.ID, index uint64, version int, now, invisibleUntil time.Time, tag string) (*message.Message, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cassieq_messages SET
			invisible_until = $5,
			delivery_count = delivery_count + 1,
			version = version + 1,
			tag = $6,
			updated_at = $4
		WHERE queue_id = $1 AND idx = $2 AND version = $3 AND NOT tombstoned
			AND (invisible_until IS NULL OR invisible_until <= $4)
		RETURNING `+messageColumns,
		q.String(), int64(index), version, now, invisibleUntil, tag,
	)
	m, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cassieq/postgres: consume message: %w", err)
	}
	return m, nil
}

// AckMessage tombstones a row that still has version.
func (s *Store) AckMessage(ctx context.Context, q queue.ID, index uint64, version int, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cassieq_messages SET tombstoned = TRUE, updated_at = $4
		WHERE queue_id = $1 AND idx = $2 AND version = $3 AND NOT tombstoned`,
		q.String(), int64(index), version, at,
	)
	if err != nil {
		return false, fmt.Errorf("cassieq/postgres: ack message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, q, index)
}

// UpdateMessageVisibility hides a row that still has version.
func (s *Store) UpdateMessageVisibility(ctx context.Context, q queue.ID, index uint64, version int, invisibleUntil time.Time, payload []byte, tag string, at time.Time) (*message.Message, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cassieq_messages SET
			invisible_until = $4,
			payload = COALESCE($5::BYTEA, payload),
			version = version + 1,
			tag = $6,
			updated_at = $7
		WHERE queue_id = $1 AND idx = $2 AND version = $3 AND NOT tombstoned
		RETURNING `+messageColumns,
		q.String(), int64(index), version, invisibleUntil, payload, tag, at,
	)
	m, err := scanMessage(row)
	if err == nil {
		return m, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("cassieq/postgres: update message: %w", err)
	}
	return nil, s.mustExist(ctx, q, index)
}

// UpdateMessageByTag replaces the payload of a row that still has tag.
func (s *Store) UpdateMessageByTag(ctx context.Context, q queue.ID, index uint64, tag string, payload []byte, newTag string, at time.Time) (*message.Message, error) {
	if payload == nil {
		payload = []byte{}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE cassieq_messages SET payload = $4, tag = $5, updated_at = $6
		WHERE queue_id = $1 AND idx = $2 AND tag = $3 AND NOT tombstoned
		RETURNING `+messageColumns,
		q.String(), int64(index), tag, payload, newTag, at,
	)
	m, err := scanMessage(row)
	if err == nil {
		return m, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("cassieq/postgres: update message by tag: %w", err)
	}
	return nil, s.mustExist(ctx, q, index)
}

// GetBucketContents returns every row of b ordered by index.
func (s *Store) GetBucketContents(ctx context.Context, q queue.ID, b message.Bucket) ([]*message.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM cassieq_messages
		WHERE queue_id = $1 AND idx >= $2 AND idx < $3
		ORDER BY idx ASC`,
		q.String(), int64(b.Start()), int64(b.End()),
	)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: bucket contents: %w", err)
	}
	defer rows.Close()

	msgs := make([]*message.Message, 0, b.Size)
	for rows.Next() {
		m, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cassieq/postgres: scan message row: %w", scanErr)
		}
		msgs = append(msgs, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cassieq/postgres: iterate message rows: %w", err)
	}
	return msgs, nil
}

// TombstoneBucket records the earliest time the reader passed bucket.
func (s *Store) TombstoneBucket(ctx context.Context, q queue.ID, bucket uint64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cassieq_bucket_tombstones AS t (queue_id, bucket, tombstoned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue_id, bucket) DO UPDATE SET
			tombstoned_at = LEAST(t.tombstoned_at, EXCLUDED.tombstoned_at)`,
		q.String(), int64(bucket), at,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: tombstone bucket: %w", err)
	}
	return nil
}

// BucketTombstone returns the marker time of bucket, or nil.
func (s *Store) BucketTombstone(ctx context.Context, q queue.ID, bucket uint64) (*time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT tombstoned_at FROM cassieq_bucket_tombstones
		WHERE queue_id = $1 AND bucket = $2`,
		q.String(), int64(bucket),
	).Scan(&at)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cassieq/postgres: bucket tombstone: %w", err)
	}
	at = at.UTC()
	return &at, nil
}

// DeleteBucket removes the rows and marker of b.
func (s *Store) DeleteBucket(ctx context.Context, q queue.ID, b message.Bucket) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM cassieq_messages WHERE queue_id = $1 AND idx >= $2 AND idx < $3`,
			q.String(), int64(b.Start()), int64(b.End()),
		); err != nil {
			return fmt.Errorf("cassieq/postgres: delete bucket rows: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM cassieq_bucket_tombstones WHERE queue_id = $1 AND bucket = $2`,
			q.String(), int64(b.Number),
		); err != nil {
			return fmt.Errorf("cassieq/postgres: delete bucket marker: %w", err)
		}
		return nil
	})
}

// mustExist returns cassieq.ErrMessageNotFound when the row is absent.
func (s *Store) mustExist(ctx context.Context, q queue.ID, index uint64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cassieq_messages WHERE queue_id = $1 AND idx = $2)`,
		q.String(), int64(index),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: message exists: %w", err)
	}
	if !exists {
		return cassieq.ErrMessageNotFound
	}
	return nil
}

// scanMessage scans a single message row.
func scanMessage(row pgx.Row) (*message.Message, error) {
	var (
		m             message.Message
		index, bucket int64
		createdBy     string
	)
	err := row.Scan(
		&index, &bucket, &m.Version, &m.Payload, &m.DeliveryCount, &m.InvisibleUntil,
		&m.Tag, &m.Tombstoned, &createdBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Index, m.Bucket = uint64(index), uint64(bucket)

	parsed, parseErr := id.ParseMessageID(createdBy)
	if parseErr != nil {
		return nil, fmt.Errorf("cassieq/postgres: parse message id %q: %w", createdBy, parseErr)
	}
	m.CreatedBy = parsed
	if m.InvisibleUntil != nil {
		t := m.InvisibleUntil.UTC()
		m.InvisibleUntil = &t
	}
	return &m, nil
}
