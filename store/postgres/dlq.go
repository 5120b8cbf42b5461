package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

const dlqColumns = `
	id, account, queue, version, idx, payload, delivery_count,
	max_delivery_count, reason, failed_at, replayed_at, created_at`

// PushDLQ adds a poison report to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cassieq_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.Account, entry.Queue, entry.Version,
		int64(entry.Index), payload, entry.DeliveryCount, entry.MaxDeliveryCount,
		entry.Reason, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching opts, oldest failure first. Empty
// filters match everything; a zero Limit returns all rows.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+` FROM cassieq_dlq
		WHERE (@account = '' OR account = @account)
		  AND (@queue = '' OR queue = @queue)
		ORDER BY failed_at, id
		LIMIT @limit OFFSET @offset`,
		pgx.NamedArgs{
			"account": opts.Account,
			"queue":   opts.Queue,
			"limit":   limit,
			"offset":  opts.Offset,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: list dlq: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*dlq.Entry, error) {
		return scanDLQ(row)
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: list dlq: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM cassieq_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cassieq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("cassieq/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cassieq_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cassieq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ deletes entries that failed strictly before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cassieq_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("cassieq/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of stored poison reports.
func (s *Store) CountDLQ(ctx context.Context) (count int64, err error) {
	if err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cassieq_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cassieq/postgres: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e     dlq.Entry
		rawID string
		index int64
	)
	if err := row.Scan(
		&rawID, &e.Account, &e.Queue, &e.Version, &index, &e.Payload,
		&e.DeliveryCount, &e.MaxDeliveryCount, &e.Reason,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Index = uint64(index)

	var err error
	if e.ID, err = id.ParseDLQID(rawID); err != nil {
		return nil, fmt.Errorf("parse dlq id %q: %w", rawID, err)
	}
	return &e, nil
}
