package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

const memberColumns = `id, hostname, state, last_seen, metadata, created_at`

// RegisterMember adds or replaces a member in the cluster registry.
func (s *Store) RegisterMember(ctx context.Context, m *cluster.Member) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cassieq_members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		m.ID.String(), m.Hostname, string(m.State), m.LastSeen, m.Metadata, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: register member: %w", err)
	}
	return nil
}

// DeregisterMember removes a member from the cluster registry.
func (s *Store) DeregisterMember(ctx context.Context, nodeID id.NodeID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cassieq_members WHERE id = $1`,
		nodeID.String(),
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: deregister member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cassieq.ErrMemberNotFound
	}
	return nil
}

// HeartbeatMember updates the last-seen timestamp for a member.
func (s *Store) HeartbeatMember(ctx context.Context, nodeID id.NodeID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cassieq_members SET last_seen = $2 WHERE id = $1`,
		nodeID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: heartbeat member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cassieq.ErrMemberNotFound
	}
	return nil
}

// ListMembers returns all registered members, oldest first.
func (s *Store) ListMembers(ctx context.Context) ([]*cluster.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memberColumns+`
		FROM cassieq_members
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: list members: %w", err)
	}
	return collectMembers(rows)
}

// ReapDeadMembers removes and returns members last seen before cutoff.
func (s *Store) ReapDeadMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM cassieq_members
		WHERE last_seen < $1
		RETURNING `+memberColumns,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: reap dead members: %w", err)
	}
	return collectMembers(rows)
}

// ── Leadership ──

// LockRole takes the lock of role for holder when it is free, expired or
// already held by holder.
func (s *Store) LockRole(ctx context.Context, role cluster.Role, holder string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cassieq_role_locks AS l (role, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE l.holder = EXCLUDED.holder OR l.expires_at <= $4`,
		string(role), holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("cassieq/postgres: lock role: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnlockRole frees the lock of role if holder holds it.
func (s *Store) UnlockRole(ctx context.Context, role cluster.Role, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cassieq_role_locks WHERE role = $1 AND holder = $2`,
		string(role), holder,
	)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: unlock role: %w", err)
	}
	return nil
}

// GetRoleOwner returns the register of role.
func (s *Store) GetRoleOwner(ctx context.Context, role cluster.Role) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT owner FROM cassieq_role_owners WHERE role = $1`, string(role),
	).Scan(&owner)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("cassieq/postgres: get role owner: %w", err)
	}
	return owner, nil
}

// SetRoleOwner writes the register of role.
func (s *Store) SetRoleOwner(ctx context.Context, role cluster.Role, owner string) error {
	var err error
	if owner == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM cassieq_role_owners WHERE role = $1`, string(role))
	} else {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO cassieq_role_owners (role, owner) VALUES ($1, $2)
			ON CONFLICT (role) DO UPDATE SET owner = EXCLUDED.owner`,
			string(role), owner,
		)
	}
	if err != nil {
		return fmt.Errorf("cassieq/postgres: set role owner: %w", err)
	}
	return nil
}

func collectMembers(rows pgx.Rows) ([]*cluster.Member, error) {
	defer rows.Close()

	var members []*cluster.Member
	for rows.Next() {
		m, scanErr := scanMember(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cassieq/postgres: scan member row: %w", scanErr)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cassieq/postgres: iterate member rows: %w", err)
	}
	return members, nil
}

// scanMember scans a single member row.
func scanMember(row pgx.Row) (*cluster.Member, error) {
	var (
		m        cluster.Member
		idStr    string
		stateStr string
	)
	err := row.Scan(&idStr, &m.Hostname, &stateStr, &m.LastSeen, &m.Metadata, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.State = cluster.MemberState(stateStr)

	parsedID, parseErr := id.ParseNodeID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("cassieq/postgres: parse member id %q: %w", idStr, parseErr)
	}
	m.ID = parsedID

	return &m, nil
}
