package cluster

import (
	"context"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Store defines the persistence contract for cluster membership.
type Store interface {
	// RegisterMember adds (or replaces) a member in the registry.
	RegisterMember(ctx context.Context, m *Member) error

	// DeregisterMember removes a member from the registry.
	DeregisterMember(ctx context.Context, nodeID id.NodeID) error

	// HeartbeatMember sets the member's last-seen time. It returns
	// cassieq.ErrMemberNotFound for an unknown member.
	HeartbeatMember(ctx context.Context, nodeID id.NodeID, at time.Time) error

	// ListMembers returns all registered members.
	ListMembers(ctx context.Context) ([]*Member, error)

	// ReapDeadMembers removes and returns members last seen before cutoff.
	ReapDeadMembers(ctx context.Context, cutoff time.Time) ([]*Member, error)
}

// LeaderStore defines the persistence contract for leadership registers
// and the per-role locks guarding them.
type LeaderStore interface {
	// LockRole takes the lock of role for holder if it is free, expired,
	// or already held by holder. The lock expires after ttl.
	LockRole(ctx context.Context, role Role, holder string, ttl time.Duration) (bool, error)

	// UnlockRole frees the lock of role if holder holds it.
	UnlockRole(ctx context.Context, role Role, holder string) error

	// GetRoleOwner returns the identity in the register of role, or "".
	GetRoleOwner(ctx context.Context, role Role) (string, error)

	// SetRoleOwner writes owner into the register of role. Callers hold
	// the role lock. An empty owner clears the register.
	SetRoleOwner(ctx context.Context, role Role, owner string) error
}
