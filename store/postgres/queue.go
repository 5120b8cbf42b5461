package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

const definitionColumns = `
	account, name, version, status, bucket_size, max_delivery_count,
	repair_interval_ms, tombstone_grace_ms, delete_buckets_after_retire,
	dead_letter_queue, created_at, updated_at`

// CreateDefinition inserts a new queue version. The primary key rejects
// a taken version and a partial unique index rejects a second active one.
func (s *Store) CreateDefinition(ctx context.Context, d *queue.Definition) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cassieq_queue_definitions (`+definitionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			d.Account, d.Name, d.Version, string(d.Status), d.BucketSize, d.MaxDeliveryCount,
			d.RepairInterval.Milliseconds(), d.TombstoneGrace.Milliseconds(),
			d.DeleteBucketsAfterRetire, d.DeadLetterQueue, d.CreatedAt, d.UpdatedAt,
		)
		if constraint, dup := uniqueViolation(err); dup {
			if constraint == "cassieq_queue_definitions_pkey" {
				return cassieq.ErrVersionConflict
			}
			return cassieq.ErrQueueExists
		}
		if err != nil {
			return fmt.Errorf("cassieq/postgres: create definition: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cassieq_queue_names (account, name, latest_version)
			VALUES ($1, $2, $3)
			ON CONFLICT (account, name) DO UPDATE SET
				latest_version = GREATEST(cassieq_queue_names.latest_version, EXCLUDED.latest_version)`,
			d.Account, d.Name, d.Version,
		)
		if err != nil {
			return fmt.Errorf("cassieq/postgres: record latest version: %w", err)
		}
		return nil
	})
}

// GetDefinition returns one queue version.
func (s *Store) GetDefinition(ctx context.Context, q queue.ID) (*queue.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM cassieq_queue_definitions
		WHERE account = $1 AND name = $2 AND version = $3`,
		q.Account, q.Name, q.Version,
	)
	d, err := scanDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cassieq.ErrQueueNotFound
		}
		return nil, fmt.Errorf("cassieq/postgres: get definition: %w", err)
	}
	return d, nil
}

// GetActiveDefinition returns the active version of ref.
func (s *Store) GetActiveDefinition(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM cassieq_queue_definitions
		WHERE account = $1 AND name = $2 AND status = 'active'`,
		ref.Account, ref.Name,
	)
	d, err := scanDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cassieq.ErrQueueNotFound
		}
		return nil, fmt.Errorf("cassieq/postgres: get active definition: %w", err)
	}
	return d, nil
}

// LatestVersion returns the highest version recorded for ref.
func (s *Store) LatestVersion(ctx context.Context, ref queue.Ref) (int, bool, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT latest_version FROM cassieq_queue_names WHERE account = $1 AND name = $2`,
		ref.Account, ref.Name,
	).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cassieq/postgres: latest version: %w", err)
	}
	return v, true, nil
}

// ListDefinitions returns definitions in status, ordered by ID string.
func (s *Store) ListDefinitions(ctx context.Context, status queue.Status) ([]*queue.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM cassieq_queue_definitions
		WHERE $1 = '' OR status = $1
		ORDER BY account || '/' || name || '/' || version::TEXT COLLATE "C"`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*queue.Definition
	for rows.Next() {
		d, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cassieq/postgres: scan definition row: %w", scanErr)
		}
		defs = append(defs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cassieq/postgres: iterate definition rows: %w", err)
	}
	return defs, nil
}

// UpdateDefinitionStatus moves one version between statuses.
func (s *Store) UpdateDefinitionStatus(ctx context.Context, q queue.ID, from, to queue.Status, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cassieq_queue_definitions SET status = $4, updated_at = $5
		WHERE account = $1 AND name = $2 AND version = $3 AND status = $6`,
		q.Account, q.Name, q.Version, string(to), at, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("cassieq/postgres: update definition status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetDefinition(ctx, q); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteDefinition removes a deleted version's record.
func (s *Store) DeleteDefinition(ctx context.Context, q queue.ID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cassieq_queue_definitions
		WHERE account = $1 AND name = $2 AND version = $3 AND status = 'deleted'`,
		q.Account, q.Name, q.Version,
	)
	if err != nil {
		return false, fmt.Errorf("cassieq/postgres: delete definition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanDefinition scans a single definition row.
func scanDefinition(row pgx.Row) (*queue.Definition, error) {
	var (
		d               queue.Definition
		status          string
		repairMS, grace int64
	)
	err := row.Scan(
		&d.Account, &d.Name, &d.Version, &status, &d.BucketSize, &d.MaxDeliveryCount,
		&repairMS, &grace, &d.DeleteBucketsAfterRetire,
		&d.DeadLetterQueue, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = queue.Status(status)
	d.RepairInterval = time.Duration(repairMS) * time.Millisecond
	d.TombstoneGrace = time.Duration(grace) * time.Millisecond
	return &d, nil
}
