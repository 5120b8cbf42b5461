// Package allocation decides which queue versions this node runs
// background workers for.
//
// Resources are enumerated in sorted order and split into contiguous
// slices, one per participant, with the remainder going to the last slot.
// Under the cluster strategy the participants and this node's slot come
// from the sorted live membership view, so every node that sees the same
// view computes the same split. The manual strategy uses a configured
// slot and total. The none strategy gives every node everything; the
// conditional writes in the queue's stores make the duplicated work safe.
package allocation

import (
	"context"
	"fmt"
	"slices"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
)

// Resource identifies one shardable unit of work. Queue versions use
// queue.ID.String().
type Resource = string

// Strategy selects how resources are split.
type Strategy = cassieq.AllocationStrategy

// Partition returns the contiguous slice of resources owned by slot out of
// total. Every slot gets len/total items and the last slot also takes the
// remainder. Out of range slots get nothing.
func Partition[T any](resources []T, slot, total int) []T {
	if total <= 0 || slot < 0 || slot >= total {
		return nil
	}
	per := len(resources) / total
	start := slot * per
	end := start + per
	if slot == total-1 {
		end = len(resources)
	}
	return slices.Clone(resources[start:end])
}

// Config configures an Allocator.
type Config struct {
	Strategy Strategy
	// Self is this node's identity in the membership view.
	Self string
	// Slot and Total are used by the manual strategy.
	Slot  int
	Total int
}

// Allocator computes this node's share of a resource set.
type Allocator struct {
	cfg  Config
	view cluster.MembershipView
}

// NewAllocator creates an Allocator. view is only consulted by the
// cluster strategy.
func NewAllocator(cfg Config, view cluster.MembershipView) *Allocator {
	return &Allocator{cfg: cfg, view: view}
}

// Allocate returns the resources this node should run, in sorted order.
func (a *Allocator) Allocate(ctx context.Context, resources []Resource) ([]Resource, error) {
	sorted := slices.Clone(resources)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	switch a.cfg.Strategy {
	case cassieq.AllocateNone:
		return sorted, nil

	case cassieq.AllocateManual:
		return Partition(sorted, a.cfg.Slot, a.cfg.Total), nil

	case cassieq.AllocateCluster:
		live, err := a.view.LiveMembers(ctx)
		if err != nil {
			return nil, fmt.Errorf("cassieq/allocation: %w", err)
		}
		slot := slices.Index(live, a.cfg.Self)
		if slot < 0 {
			return nil, fmt.Errorf("cassieq/allocation: %s not in membership view: %w", a.cfg.Self, cassieq.ErrMemberNotFound)
		}
		return Partition(sorted, slot, len(live)), nil

	default:
		return nil, fmt.Errorf("cassieq/allocation: unknown strategy %q: %w", a.cfg.Strategy, cassieq.ErrInvalidConfig)
	}
}
