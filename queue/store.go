package queue

import (
	"context"
	"time"
)

// Store defines the persistence contract for queue definitions.
type Store interface {
	// CreateDefinition inserts d only if d.Version is unused for its Ref
	// and no version of the Ref is active. It returns
	// cassieq.ErrQueueExists when an active version exists and
	// cassieq.ErrVersionConflict when d.Version was taken concurrently.
	CreateDefinition(ctx context.Context, d *Definition) error

	// GetDefinition returns the definition of one version, or
	// cassieq.ErrQueueNotFound.
	GetDefinition(ctx context.Context, q ID) (*Definition, error)

	// GetActiveDefinition returns the active version of ref, or
	// cassieq.ErrQueueNotFound.
	GetActiveDefinition(ctx context.Context, ref Ref) (*Definition, error)

	// LatestVersion returns the highest version ever created for ref.
	// ok is false when the name has never been used.
	LatestVersion(ctx context.Context, ref Ref) (version int, ok bool, err error)

	// ListDefinitions returns definitions in the given status, ordered by
	// ID string. An empty status returns every definition.
	ListDefinitions(ctx context.Context, status Status) ([]*Definition, error)

	// UpdateDefinitionStatus moves version q from one status to another.
	// It returns false when the stored status is not from.
	UpdateDefinitionStatus(ctx context.Context, q ID, from, to Status, at time.Time) (bool, error)

	// DeleteDefinition removes the record of version q. Only deleted
	// versions are removed; it reports whether a record went away.
	DeleteDefinition(ctx context.Context, q ID) (bool, error)
}
