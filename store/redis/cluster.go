package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// RegisterMember adds or replaces a member in the cluster registry.
func (s *Store) RegisterMember(ctx context.Context, m *cluster.Member) error {
	mID := m.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.member(mID))
	pipe.HSet(ctx, s.keys.member(mID), memberToMap(m))
	pipe.SAdd(ctx, s.keys.memberIDs(), mID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cassieq/redis: register member: %w", err)
	}
	return nil
}

// DeregisterMember removes a member from the cluster registry.
func (s *Store) DeregisterMember(ctx context.Context, nodeID id.NodeID) error {
	mID := nodeID.String()
	key := s.keys.member(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cassieq/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return cassieq.ErrMemberNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.keys.memberIDs(), mID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cassieq/redis: deregister member: %w", err)
	}
	return nil
}

// HeartbeatMember updates the last-seen timestamp for a member.
func (s *Store) HeartbeatMember(ctx context.Context, nodeID id.NodeID, at time.Time) error {
	key := s.keys.member(nodeID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cassieq/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return cassieq.ErrMemberNotFound
	}

	if err := s.client.HSet(ctx, key, "last_seen", at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: heartbeat member: %w", err)
	}
	return nil
}

// ListMembers returns all registered members, oldest first.
func (s *Store) ListMembers(ctx context.Context) ([]*cluster.Member, error) {
	ids, err := s.client.SMembers(ctx, s.keys.memberIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: list members: %w", err)
	}

	members := make([]*cluster.Member, 0, len(ids))
	for _, mID := range ids {
		vals, getErr := s.client.HGetAll(ctx, s.keys.member(mID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		m, convErr := mapToMember(vals)
		if convErr != nil {
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, k int) bool {
		return members[i].CreatedAt.Before(members[k].CreatedAt)
	})
	return members, nil
}

// ReapDeadMembers removes and returns members last seen before cutoff.
func (s *Store) ReapDeadMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	var dead []*cluster.Member
	for _, m := range members {
		if !m.LastSeen.Before(cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.keys.member(m.ID.String()))
		pipe.SRem(ctx, s.keys.memberIDs(), m.ID.String())
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return dead, fmt.Errorf("cassieq/redis: reap member: %w", pErr)
		}
		dead = append(dead, m)
	}
	return dead, nil
}

// ── Leadership ──

// LockRole takes the lock of role for holder with SET PX semantics.
func (s *Store) LockRole(ctx context.Context, role cluster.Role, holder string, ttl time.Duration) (bool, error) {
	res, err := lockScript.Run(ctx, s.client,
		[]string{s.keys.lock(role)}, holder, strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cassieq/redis: lock role: %w", err)
	}
	return res == 1, nil
}

// UnlockRole frees the lock of role if holder holds it.
func (s *Store) UnlockRole(ctx context.Context, role cluster.Role, holder string) error {
	if err := unlockScript.Run(ctx, s.client, []string{s.keys.lock(role)}, holder).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: unlock role: %w", err)
	}
	return nil
}

// GetRoleOwner returns the register of role.
func (s *Store) GetRoleOwner(ctx context.Context, role cluster.Role) (string, error) {
	owner, err := s.client.Get(ctx, s.keys.owner(role)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("cassieq/redis: get role owner: %w", err)
	}
	return owner, nil
}

// SetRoleOwner writes the register of role.
func (s *Store) SetRoleOwner(ctx context.Context, role cluster.Role, owner string) error {
	var err error
	if owner == "" {
		err = s.client.Del(ctx, s.keys.owner(role)).Err()
	} else {
		err = s.client.Set(ctx, s.keys.owner(role), owner, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("cassieq/redis: set role owner: %w", err)
	}
	return nil
}

// ── helpers ──

func memberToMap(m *cluster.Member) map[string]interface{} {
	meta, _ := json.Marshal(m.Metadata) //nolint:errcheck // marshal should not fail for basic types
	return map[string]interface{}{
		"id":         m.ID.String(),
		"hostname":   m.Hostname,
		"state":      string(m.State),
		"last_seen":  m.LastSeen.UTC().Format(time.RFC3339Nano),
		"metadata":   string(meta),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToMember(m map[string]string) (*cluster.Member, error) {
	mID, err := id.ParseNodeID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cassieq/redis: parse member id: %w", err)
	}

	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var meta map[string]string
	if v := m["metadata"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &meta) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return &cluster.Member{
		ID:        mID,
		Hostname:  m["hostname"],
		State:     cluster.MemberState(m["state"]),
		LastSeen:  lastSeen,
		Metadata:  meta,
		CreatedAt: createdAt,
	}, nil
}
