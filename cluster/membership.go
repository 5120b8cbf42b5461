package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Membership keeps this node's record in the registry fresh.
type Membership struct {
	store  Store
	self   *Member
	clock  clock.Clock
	logger *slog.Logger
}

// NewMembership creates a Membership for the node nodeID. An empty
// hostname defaults to os.Hostname.
func NewMembership(store Store, nodeID id.NodeID, hostname string, clk clock.Clock, logger *slog.Logger) *Membership {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		store:  store,
		self:   &Member{ID: nodeID, Hostname: hostname, State: MemberActive},
		clock:  clk,
		logger: logger,
	}
}

// Self returns this node's identity.
func (m *Membership) Self() id.NodeID { return m.self.ID }

// Join registers this node as an active member.
func (m *Membership) Join(ctx context.Context) error {
	now := m.clock.Now()
	m.self.State = MemberActive
	m.self.LastSeen = now
	m.self.CreatedAt = now
	if err := m.store.RegisterMember(ctx, m.self); err != nil {
		return fmt.Errorf("cassieq/cluster: join: %w", err)
	}
	m.logger.Info("joined cluster",
		slog.String("node_id", m.self.ID.String()),
		slog.String("hostname", m.self.Hostname),
	)
	return nil
}

// Heartbeat refreshes this node's last-seen time. A record that vanished
// (reaped by a peer after a long pause) is registered again.
func (m *Membership) Heartbeat(ctx context.Context) error {
	err := m.store.HeartbeatMember(ctx, m.self.ID, m.clock.Now())
	if errors.Is(err, cassieq.ErrMemberNotFound) {
		m.logger.Warn("membership record missing, re-joining", slog.String("node_id", m.self.ID.String()))
		return m.Join(ctx)
	}
	if err != nil {
		return fmt.Errorf("cassieq/cluster: heartbeat: %w", err)
	}
	return nil
}

// Reap removes members not seen for longer than threshold.
func (m *Membership) Reap(ctx context.Context, threshold time.Duration) ([]*Member, error) {
	dead, err := m.store.ReapDeadMembers(ctx, m.clock.Now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("cassieq/cluster: reap: %w", err)
	}
	for _, d := range dead {
		m.logger.Info("reaped dead member",
			slog.String("node_id", d.ID.String()),
			slog.Time("last_seen", d.LastSeen),
		)
	}
	return dead, nil
}

// Leave removes this node from the registry.
func (m *Membership) Leave(ctx context.Context) error {
	if err := m.store.DeregisterMember(ctx, m.self.ID); err != nil && !errors.Is(err, cassieq.ErrMemberNotFound) {
		return fmt.Errorf("cassieq/cluster: leave: %w", err)
	}
	m.logger.Info("left cluster", slog.String("node_id", m.self.ID.String()))
	return nil
}
