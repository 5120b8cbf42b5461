package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// CreateDefinition inserts a new queue version.
func (s *Store) CreateDefinition(ctx context.Context, d *queue.Definition) error {
	q := d.ID()
	args := []interface{}{d.Ref().String(), q.String(), strconv.Itoa(d.Version), string(d.Status)}
	args = append(args, defToArgs(d)...)

	res, err := createDefScript.Run(ctx, s.client,
		[]string{s.keys.def(q), s.keys.defIDs(), s.keys.active(), s.keys.latest()},
		args...,
	).Text()
	if err != nil {
		return fmt.Errorf("cassieq/redis: create definition: %w", err)
	}
	switch res {
	case "version":
		return cassieq.ErrVersionConflict
	case "exists":
		return cassieq.ErrQueueExists
	}
	return nil
}

// GetDefinition returns one queue version.
func (s *Store) GetDefinition(ctx context.Context, q queue.ID) (*queue.Definition, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.def(q)).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: get definition: %w", err)
	}
	if len(vals) == 0 {
		return nil, cassieq.ErrQueueNotFound
	}
	return mapToDef(vals)
}

// GetActiveDefinition returns the active version of ref.
func (s *Store) GetActiveDefinition(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	v, err := s.client.HGet(ctx, s.keys.active(), ref.String()).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cassieq.ErrQueueNotFound
		}
		return nil, fmt.Errorf("cassieq/redis: get active definition: %w", err)
	}
	return s.GetDefinition(ctx, queue.ID{Account: ref.Account, Name: ref.Name, Version: v})
}

// LatestVersion returns the highest version recorded for ref.
func (s *Store) LatestVersion(ctx context.Context, ref queue.Ref) (int, bool, error) {
	v, err := s.client.HGet(ctx, s.keys.latest(), ref.String()).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cassieq/redis: latest version: %w", err)
	}
	return v, true, nil
}

// ListDefinitions returns definitions in status, ordered by ID string.
func (s *Store) ListDefinitions(ctx context.Context, status queue.Status) ([]*queue.Definition, error) {
	ids, err := s.client.SMembers(ctx, s.keys.defIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: list definitions: %w", err)
	}

	defs := make([]*queue.Definition, 0, len(ids))
	for _, raw := range ids {
		q, parseErr := queue.ParseID(raw)
		if parseErr != nil {
			continue
		}
		vals, getErr := s.client.HGetAll(ctx, s.keys.def(q)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		d, convErr := mapToDef(vals)
		if convErr != nil {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, k int) bool {
		return defs[i].ID().String() < defs[k].ID().String()
	})
	return defs, nil
}

// UpdateDefinitionStatus moves one version between statuses.
func (s *Store) UpdateDefinitionStatus(ctx context.Context, q queue.ID, from, to queue.Status, at time.Time) (bool, error) {
	res, err := defStatusScript.Run(ctx, s.client,
		[]string{s.keys.def(q), s.keys.active()},
		string(from), string(to), at.Format(time.RFC3339Nano), q.Ref().String(), strconv.Itoa(q.Version),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cassieq/redis: update definition status: %w", err)
	}
	if res < 0 {
		return false, cassieq.ErrQueueNotFound
	}
	return res == 1, nil
}

// DeleteDefinition removes a deleted version's record.
func (s *Store) DeleteDefinition(ctx context.Context, q queue.ID) (bool, error) {
	res, err := deleteDefScript.Run(ctx, s.client,
		[]string{s.keys.def(q), s.keys.defIDs()}, q.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cassieq/redis: delete definition: %w", err)
	}
	return res == 1, nil
}

// ── helpers ──

func defToArgs(d *queue.Definition) []interface{} {
	return []interface{}{
		"account", d.Account,
		"name", d.Name,
		"version", strconv.Itoa(d.Version),
		"status", string(d.Status),
		"bucket_size", strconv.Itoa(d.BucketSize),
		"max_delivery_count", strconv.Itoa(d.MaxDeliveryCount),
		"repair_interval", strconv.FormatInt(int64(d.RepairInterval), 10),
		"tombstone_grace", strconv.FormatInt(int64(d.TombstoneGrace), 10),
		"delete_buckets_after_retire", boolToStr(d.DeleteBucketsAfterRetire),
		"dead_letter_queue", d.DeadLetterQueue,
		"created_at", d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", d.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToDef(m map[string]string) (*queue.Definition, error) {
	version, err := strconv.Atoi(m["version"])
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: parse definition version: %w", err)
	}
	bucketSize, _ := strconv.Atoi(m["bucket_size"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxDeliveries, _ := strconv.Atoi(m["max_delivery_count"])     //nolint:errcheck // best-effort parse from trusted Redis data
	repair, _ := strconv.ParseInt(m["repair_interval"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	grace, _ := strconv.ParseInt(m["tombstone_grace"], 10, 64)    //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &queue.Definition{
		Account:                  m["account"],
		Name:                     m["name"],
		Version:                  version,
		Status:                   queue.Status(m["status"]),
		BucketSize:               bucketSize,
		MaxDeliveryCount:         maxDeliveries,
		RepairInterval:           time.Duration(repair),
		TombstoneGrace:           time.Duration(grace),
		DeleteBucketsAfterRetire: m["delete_buckets_after_retire"] == "1",
		DeadLetterQueue:          m["dead_letter_queue"],
		CreatedAt:                createdAt,
		UpdatedAt:                updatedAt,
	}, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
