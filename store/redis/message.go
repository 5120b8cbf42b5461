package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// PutMessage inserts a row if its index is free.
func (s *Store) PutMessage(ctx context.Context, q queue.ID, m *message.Message) error {
	args := append([]interface{}{m.CreatedBy.String()}, messageToArgs(m)...)
	res, err := putMessageScript.Run(ctx, s.client,
		[]string{s.keys.message(q, m.Index)}, args...,
	).Text()
	if err != nil {
		return fmt.Errorf("cassieq/redis: put message: %w", err)
	}
	if res == "conflict" {
		return cassieq.ErrMessageConflict
	}
	return nil
}

// GetMessage returns the row at index.
func (s *Store) GetMessage(ctx context.Context, q queue.ID, index uint64) (*message.Message, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.message(q, index)).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: get message: %w", err)
	}
	if len(vals) == 0 {
		return nil, cassieq.ErrMessageNotFound
	}
	return mapToMessage(vals)
}

// ConsumeMessage delivers a visible row that still has version.
func (s *Store) ConsumeMessage(ctx context.Context, q queue.ID, index uint64, version int, now, invisibleUntil time.Time, tag string) (*message.Message, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.keys.message(q, index)},
		strconv.Itoa(version),
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.FormatInt(invisibleUntil.UnixMicro(), 10),
		tag,
		now.UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: consume message: %w", err)
	}
	row, _, err := scriptRow(res)
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: consume message: %w", err)
	}
	return row, nil
}

// AckMessage tombstones a row that still has version.
func (s *Store) AckMessage(ctx context.Context, q queue.ID, index uint64, version int, at time.Time) (bool, error) {
	res, err := ackScript.Run(ctx, s.client,
		[]string{s.keys.message(q, index)},
		strconv.Itoa(version), at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cassieq/redis: ack message: %w", err)
	}
	if res < 0 {
		return false, cassieq.ErrMessageNotFound
	}
	return res == 1, nil
}

// UpdateMessageVisibility hides a row that still has version.
func (s *Store) UpdateMessageVisibility(ctx context.Context, q queue.ID, index uint64, version int, invisibleUntil time.Time, payload []byte, tag string, at time.Time) (*message.Message, error) {
	hasPayload := "0"
	if payload != nil {
		hasPayload = "1"
	}
	res, err := updateVisibilityScript.Run(ctx, s.client,
		[]string{s.keys.message(q, index)},
		strconv.Itoa(version),
		strconv.FormatInt(invisibleUntil.UnixMicro(), 10),
		tag,
		at.UTC().Format(time.RFC3339Nano),
		hasPayload,
		string(payload),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: update message: %w", err)
	}
	row, missing, err := scriptRow(res)
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: update message: %w", err)
	}
	if missing {
		return nil, cassieq.ErrMessageNotFound
	}
	return row, nil
}

// UpdateMessageByTag replaces the payload of a row that still has tag.
func (s *Store) UpdateMessageByTag(ctx context.Context, q queue.ID, index uint64, tag string, payload []byte, newTag string, at time.Time) (*message.Message, error) {
	res, err := updateByTagScript.Run(ctx, s.client,
		[]string{s.keys.message(q, index)},
		tag, string(payload), newTag, at.UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: update message by tag: %w", err)
	}
	row, missing, err := scriptRow(res)
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: update message by tag: %w", err)
	}
	if missing {
		return nil, cassieq.ErrMessageNotFound
	}
	return row, nil
}

// GetBucketContents returns every row of b ordered by index.
func (s *Store) GetBucketContents(ctx context.Context, q queue.ID, b message.Bucket) ([]*message.Message, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, 0, b.Size)
	for i := b.Start(); i < b.End(); i++ {
		cmds = append(cmds, pipe.HGetAll(ctx, s.keys.message(q, i)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cassieq/redis: bucket contents: %w", err)
	}

	rows := make([]*message.Message, 0, len(cmds))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		row, err := mapToMessage(vals)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TombstoneBucket records the earliest time the reader passed bucket.
func (s *Store) TombstoneBucket(ctx context.Context, q queue.ID, bucket uint64, at time.Time) error {
	err := markBucketScript.Run(ctx, s.client,
		[]string{s.keys.markers(q)},
		strconv.FormatUint(bucket, 10), strconv.FormatInt(at.UnixMicro(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("cassieq/redis: tombstone bucket: %w", err)
	}
	return nil
}

// BucketTombstone returns the marker time of bucket, or nil.
func (s *Store) BucketTombstone(ctx context.Context, q queue.ID, bucket uint64) (*time.Time, error) {
	vals, err := s.client.HMGet(ctx, s.keys.markers(q), strconv.FormatUint(bucket, 10)).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: bucket tombstone: %w", err)
	}
	if len(vals) == 0 || vals[0] == nil {
		return nil, nil
	}
	raw, _ := vals[0].(string)
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: parse bucket tombstone: %w", err)
	}
	at := time.UnixMicro(micros).UTC()
	return &at, nil
}

// DeleteBucket removes the rows and marker of b.
func (s *Store) DeleteBucket(ctx context.Context, q queue.ID, b message.Bucket) error {
	pipe := s.client.TxPipeline()
	keys := make([]string, 0, b.Size)
	for i := b.Start(); i < b.End(); i++ {
		keys = append(keys, s.keys.message(q, i))
	}
	pipe.Del(ctx, keys...)
	pipe.HDel(ctx, s.keys.markers(q), strconv.FormatUint(b.Number, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cassieq/redis: delete bucket: %w", err)
	}
	return nil
}

// ── helpers ──

// scriptRow decodes a script reply that is either a HGETALL array, 0 for
// a lost condition or -1 for a missing row.
func scriptRow(res interface{}) (*message.Message, bool, error) {
	switch v := res.(type) {
	case int64:
		return nil, v < 0, nil
	case []interface{}:
		m := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			m[k] = val
		}
		row, err := mapToMessage(m)
		return row, false, err
	default:
		return nil, false, fmt.Errorf("unexpected script reply %T", res)
	}
}

func messageToArgs(m *message.Message) []interface{} {
	until := ""
	if m.InvisibleUntil != nil {
		until = strconv.FormatInt(m.InvisibleUntil.UnixMicro(), 10)
	}
	return []interface{}{
		"index", strconv.FormatUint(m.Index, 10),
		"bucket", strconv.FormatUint(m.Bucket, 10),
		"version", strconv.Itoa(m.Version),
		"payload", string(m.Payload),
		"delivery_count", strconv.Itoa(m.DeliveryCount),
		"invisible_until", until,
		"tag", m.Tag,
		"tombstoned", boolToStr(m.Tombstoned),
		"created_by", m.CreatedBy.String(),
		"created_at", m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToMessage(m map[string]string) (*message.Message, error) {
	index, err := strconv.ParseUint(m["index"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: parse message index: %w", err)
	}
	bucket, _ := strconv.ParseUint(m["bucket"], 10, 64)           //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.Atoi(m["version"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	deliveries, _ := strconv.Atoi(m["delivery_count"])            //nolint:errcheck // best-effort parse from trusted Redis data
	createdBy, _ := id.ParseMessageID(m["created_by"])            //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	row := &message.Message{
		Index:         index,
		Bucket:        bucket,
		Version:       version,
		Payload:       []byte(m["payload"]),
		DeliveryCount: deliveries,
		Tag:           m["tag"],
		Tombstoned:    m["tombstoned"] == "1",
		CreatedBy:     createdBy,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	if v := m["invisible_until"]; v != "" {
		micros, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		t := time.UnixMicro(micros).UTC()
		row.InvisibleUntil = &t
	}
	return row, nil
}
