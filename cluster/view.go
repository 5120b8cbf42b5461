package cluster

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/clock"
)

// MembershipView returns the identities of the live members, sorted.
type MembershipView interface {
	LiveMembers(ctx context.Context) ([]string, error)
}

// HeartbeatView derives liveness from heartbeat age: a member is live if
// it is active and was seen within the TTL.
type HeartbeatView struct {
	store Store
	ttl   time.Duration
	clock clock.Clock
}

// NewHeartbeatView creates a view over store. A nil clock means the wall
// clock.
func NewHeartbeatView(store Store, ttl time.Duration, clk clock.Clock) *HeartbeatView {
	if clk == nil {
		clk = clock.System{}
	}
	return &HeartbeatView{store: store, ttl: ttl, clock: clk}
}

// LiveMembers implements MembershipView.
func (v *HeartbeatView) LiveMembers(ctx context.Context) ([]string, error) {
	members, err := v.store.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("cassieq/cluster: list members: %w", err)
	}

	cutoff := v.clock.Now().Add(-v.ttl)
	live := make([]string, 0, len(members))
	for _, m := range members {
		if m.State != MemberActive || m.LastSeen.Before(cutoff) {
			continue
		}
		live = append(live, m.ID.String())
	}
	slices.Sort(live)
	return live, nil
}

// StaticView is a fixed membership, used with manual allocation and in
// tests.
type StaticView []string

// LiveMembers implements MembershipView.
func (s StaticView) LiveMembers(context.Context) ([]string, error) {
	out := slices.Clone([]string(s))
	slices.Sort(out)
	return out, nil
}
