package cluster

import (
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

// MemberState represents the lifecycle state of a node.
type MemberState string

const (
	// MemberActive means the node is healthy and takes part in
	// allocation and elections.
	MemberActive MemberState = "active"
	// MemberDraining means the node is shutting down and should no longer
	// be handed work.
	MemberDraining MemberState = "draining"
)

// Member represents a cassieq node in a cluster.
type Member struct {
	ID        id.NodeID         `json:"id"`
	Hostname  string            `json:"hostname"`
	State     MemberState       `json:"state"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Role is a named singleton-ownership slot.
type Role string

const (
	// RoleDeletionSweeper resumes queue deletions left unfinished.
	RoleDeletionSweeper Role = "deletion-sweeper"
	// RoleDefinitionJanitor purges old deleted queue definitions.
	RoleDefinitionJanitor Role = "definition-janitor"
)
