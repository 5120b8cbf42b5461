package cassieq

import (
	"errors"
	"fmt"
	"time"
)

// AllocationStrategy selects how per-queue background work is spread over
// the cluster.
type AllocationStrategy string

const (
	// AllocateCluster partitions queues over the live membership view.
	AllocateCluster AllocationStrategy = "cluster"
	// AllocateManual partitions queues over a fixed slot and total.
	AllocateManual AllocationStrategy = "manual"
	// AllocateNone runs every queue on every node.
	AllocateNone AllocationStrategy = "none"
)

// Config holds configuration for a cassieq node. Build one with
// DefaultConfig, override fields, and let engine.New call Validate.
type Config struct {
	// NodeName is a human readable label stored with the membership
	// record. The node identity itself is generated at startup.
	NodeName string

	// DefaultBucketSize is used for queues created without a bucket size.
	DefaultBucketSize int

	// DefaultMaxDeliveryCount is used for queues created without one.
	DefaultMaxDeliveryCount int

	// DefaultRepairInterval is the repair period for queues created
	// without one.
	DefaultRepairInterval time.Duration

	// DefaultTombstoneGrace is how long a bucket the reader has passed is
	// left alone before the repair worker may reclaim or retire it.
	DefaultTombstoneGrace time.Duration

	// RepairJitter bounds the random initial delay of repair loops so
	// nodes sharing a queue do not tick in lockstep.
	RepairJitter time.Duration

	// ReaderLookahead is the number of buckets a single consume may scan.
	ReaderLookahead int

	// RepairLookahead is the number of buckets one repair sweep may visit.
	// A sweep that stops short resumes from there on the next tick.
	RepairLookahead int

	// CASRetryWait, CASRetryMaxWait and CASMaxRetries bound the retry
	// loop around conditional writes.
	CASRetryWait    time.Duration
	CASRetryMaxWait time.Duration
	CASMaxRetries   int

	// HeartbeatInterval is how often this node refreshes its membership
	// record. MemberTTL is how long a silent member stays live.
	HeartbeatInterval time.Duration
	MemberTTL         time.Duration

	// ElectionInterval is the election tick. LockTTL bounds how long a
	// role lock is held; LockWait bounds how long a claim waits for it.
	ElectionInterval time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration

	// AllocationInterval is the allocation tick.
	AllocationInterval time.Duration

	// Allocation selects the allocation strategy. ManualSlot and
	// ManualTotal are only read for AllocateManual.
	Allocation  AllocationStrategy
	ManualSlot  int
	ManualTotal int

	// DeletionDelay postpones the local deletion job after a delete.
	DeletionDelay time.Duration

	// DeletionSweepInterval is how often the deletion sweeper leader
	// resumes versions left in the deleting state.
	DeletionSweepInterval time.Duration

	// JanitorSchedule is a cron expression for purging deleted queue
	// definitions older than DefinitionRetention. Empty disables it.
	JanitorSchedule     string
	DefinitionRetention time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultBucketSize:       20,
		DefaultMaxDeliveryCount: 5,
		DefaultRepairInterval:   15 * time.Second,
		DefaultTombstoneGrace:   30 * time.Second,
		RepairJitter:            5 * time.Second,
		ReaderLookahead:         3,
		RepairLookahead:         32,
		CASRetryWait:            10 * time.Millisecond,
		CASRetryMaxWait:         500 * time.Millisecond,
		CASMaxRetries:           10,
		HeartbeatInterval:       5 * time.Second,
		MemberTTL:               20 * time.Second,
		ElectionInterval:        10 * time.Second,
		LockTTL:                 5 * time.Second,
		LockWait:                2 * time.Second,
		AllocationInterval:      30 * time.Second,
		Allocation:              AllocateCluster,
		DeletionDelay:           time.Second,
		DeletionSweepInterval:   time.Minute,
		JanitorSchedule:         "@every 1h",
		DefinitionRetention:     24 * time.Hour,
		ShutdownTimeout:         30 * time.Second,
	}
}

// Validate checks the configuration once at startup. The returned error
// wraps ErrInvalidConfig and lists every problem found.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	positive("DefaultBucketSize", c.DefaultBucketSize)
	positive("DefaultMaxDeliveryCount", c.DefaultMaxDeliveryCount)
	positive("ReaderLookahead", c.ReaderLookahead)
	positive("RepairLookahead", c.RepairLookahead)
	positive("CASMaxRetries", c.CASMaxRetries)
	positiveDur("DefaultRepairInterval", c.DefaultRepairInterval)
	positiveDur("CASRetryWait", c.CASRetryWait)
	positiveDur("HeartbeatInterval", c.HeartbeatInterval)
	positiveDur("ElectionInterval", c.ElectionInterval)
	positiveDur("LockTTL", c.LockTTL)
	positiveDur("LockWait", c.LockWait)
	positiveDur("AllocationInterval", c.AllocationInterval)
	positiveDur("DeletionSweepInterval", c.DeletionSweepInterval)

	if c.DefaultTombstoneGrace < 0 {
		errs = append(errs, fmt.Errorf("DefaultTombstoneGrace must not be negative, got %s", c.DefaultTombstoneGrace))
	}
	if c.RepairJitter < 0 {
		errs = append(errs, fmt.Errorf("RepairJitter must not be negative, got %s", c.RepairJitter))
	}
	if c.DeletionDelay < 0 {
		errs = append(errs, fmt.Errorf("DeletionDelay must not be negative, got %s", c.DeletionDelay))
	}
	if c.CASRetryMaxWait < c.CASRetryWait {
		errs = append(errs, fmt.Errorf("CASRetryMaxWait (%s) must be at least CASRetryWait (%s)", c.CASRetryMaxWait, c.CASRetryWait))
	}
	if c.MemberTTL <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("MemberTTL (%s) must exceed HeartbeatInterval (%s)", c.MemberTTL, c.HeartbeatInterval))
	}
	if c.JanitorSchedule != "" && c.DefinitionRetention <= 0 {
		errs = append(errs, fmt.Errorf("DefinitionRetention must be positive when JanitorSchedule is set"))
	}

	switch c.Allocation {
	case AllocateCluster, AllocateNone:
	case AllocateManual:
		if c.ManualTotal <= 0 {
			errs = append(errs, fmt.Errorf("ManualTotal must be positive for manual allocation, got %d", c.ManualTotal))
		} else if c.ManualSlot < 0 || c.ManualSlot >= c.ManualTotal {
			errs = append(errs, fmt.Errorf("ManualSlot must be in [0, %d), got %d", c.ManualTotal, c.ManualSlot))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown allocation strategy %q", c.Allocation))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
