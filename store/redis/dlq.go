package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Poison reports are hashes indexed by a sorted set scored with the
// failure time in unix milliseconds, so listing is ordered and purging is
// a range query.

func failedScore(t time.Time) float64 { return float64(t.UnixMilli()) }

// PushDLQ adds a poison report to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.dlq(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.keys.dlqByTime(), goredis.Z{Score: failedScore(entry.FailedAt), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cassieq/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching opts, oldest failure first. Without
// filters the page is cut by the index itself.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filtered := opts.Account != "" || opts.Queue != ""

	start, stop := int64(0), int64(-1)
	if !filtered {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}
	ids, err := s.client.ZRange(ctx, s.keys.dlqByTime(), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: list dlq: %w", err)
	}
	entries, err := s.loadDLQ(ctx, ids)
	if err != nil {
		return nil, err
	}
	if !filtered {
		return entries, nil
	}

	matched := entries[:0]
	for _, e := range entries {
		if opts.Account != "" && e.Account != opts.Account {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		matched = append(matched, e)
	}
	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// loadDLQ fetches the hashes of ids in one round trip, skipping any that
// a concurrent purge removed.
func (s *Store) loadDLQ(ctx context.Context, ids []string) ([]*dlq.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.dlq(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cassieq/redis: load dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, err := mapToDLQ(vals)
		if err != nil {
			s.logger.Warn("skipping unreadable dlq entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.dlq(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, cassieq.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ stamps replayed_at on an entry that is still indexed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	eID := entryID.String()
	if _, err := s.client.ZScore(ctx, s.keys.dlqByTime(), eID).Result(); err != nil {
		if errors.Is(err, goredis.Nil) {
			return cassieq.ErrDLQNotFound
		}
		return fmt.Errorf("cassieq/redis: replay dlq: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.dlq(eID), "replayed_at", formatTime(at)).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed strictly before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.dlqByTime(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("cassieq/redis: purge dlq: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	hashes := make([]string, len(ids))
	for i, eID := range ids {
		members[i] = eID
		hashes[i] = s.keys.dlq(eID)
	}

	pipe := s.client.TxPipeline()
	removed := pipe.ZRem(ctx, s.keys.dlqByTime(), members...)
	pipe.Del(ctx, hashes...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cassieq/redis: purge dlq: %w", err)
	}
	return removed.Val(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, s.keys.dlqByTime()).Result()
	if err != nil {
		return 0, fmt.Errorf("cassieq/redis: count dlq: %w", err)
	}
	return count, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":                 e.ID.String(),
		"account":            e.Account,
		"queue":              e.Queue,
		"version":            e.Version,
		"index":              strconv.FormatUint(e.Index, 10),
		"payload":            e.Payload,
		"delivery_count":     e.DeliveryCount,
		"max_delivery_count": e.MaxDeliveryCount,
		"reason":             e.Reason,
		"failed_at":          formatTime(e.FailedAt),
		"created_at":         formatTime(e.CreatedAt),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = formatTime(*e.ReplayedAt)
	}
	return m
}

// dlqFields parses hash fields, remembering the first failure.
type dlqFields struct {
	m   map[string]string
	err error
}

func (f *dlqFields) int(key string) int {
	n, err := strconv.Atoi(f.m[key])
	f.keep(key, err)
	return n
}

func (f *dlqFields) uint(key string) uint64 {
	n, err := strconv.ParseUint(f.m[key], 10, 64)
	f.keep(key, err)
	return n
}

func (f *dlqFields) time(key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, f.m[key])
	f.keep(key, err)
	return t
}

func (f *dlqFields) keep(key string, err error) {
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", key, err)
	}
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: parse dlq id: %w", err)
	}

	f := &dlqFields{m: m}
	e := &dlq.Entry{
		ID:               eID,
		Account:          m["account"],
		Queue:            m["queue"],
		Version:          f.int("version"),
		Index:            f.uint("index"),
		Payload:          []byte(m["payload"]),
		DeliveryCount:    f.int("delivery_count"),
		MaxDeliveryCount: f.int("max_delivery_count"),
		Reason:           m["reason"],
		FailedAt:         f.time("failed_at"),
		CreatedAt:        f.time("created_at"),
	}
	if _, ok := m["replayed_at"]; ok {
		at := f.time("replayed_at")
		e.ReplayedAt = &at
	}
	if f.err != nil {
		return nil, fmt.Errorf("cassieq/redis: dlq %s: %w", eID, f.err)
	}
	return e, nil
}
