package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of one queue version.
type Status string

const (
	// StatusActive means the version serves puts and consumes.
	StatusActive Status = "active"
	// StatusDeleting means a deletion job for the version is pending.
	StatusDeleting Status = "deleting"
	// StatusDeleted means the version's rows are gone.
	StatusDeleted Status = "deleted"
)

// Ref addresses a queue by account and name, independent of version.
type Ref struct {
	Account string `json:"account"`
	Name    string `json:"name"`
}

func (r Ref) String() string { return r.Account + "/" + r.Name }

// Validate checks that both parts are present and free of the '/'
// separator used in ID strings.
func (r Ref) Validate() error {
	if r.Account == "" || r.Name == "" {
		return fmt.Errorf("queue: account and name are required")
	}
	if strings.Contains(r.Account, "/") || strings.Contains(r.Name, "/") {
		return fmt.Errorf("queue: %q must not contain '/'", r.String())
	}
	return nil
}

// ID is a specific version of a queue. Every row owned by a queue version
// is keyed by its ID.
type ID struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Ref drops the version.
func (q ID) Ref() Ref { return Ref{Account: q.Account, Name: q.Name} }

// String renders the ID as "account/name/version". The result sorts
// account and name lexically, which is what the resource allocator
// enumerates over.
func (q ID) String() string {
	return q.Account + "/" + q.Name + "/" + strconv.Itoa(q.Version)
}

// ParseID is the inverse of ID.String.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("queue: parse id %q: want account/name/version", s)
	}
	v, err := strconv.Atoi(parts[2])
	if err != nil || v < 0 {
		return ID{}, fmt.Errorf("queue: parse id %q: bad version", s)
	}
	return ID{Account: parts[0], Name: parts[1], Version: v}, nil
}

// Definition describes one version of a queue.
type Definition struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Status  Status `json:"status"`

	// BucketSize is the number of consecutive indices per bucket.
	BucketSize int `json:"bucket_size"`

	// MaxDeliveryCount is how many deliveries a message gets before the
	// repair worker treats the next abandonment as poison.
	MaxDeliveryCount int `json:"max_delivery_count"`

	// RepairInterval is the fixed delay between repair sweeps.
	RepairInterval time.Duration `json:"repair_interval"`

	// TombstoneGrace is how long a bucket the reader has passed is left
	// alone before repair reclaims stranded rows or retires it.
	TombstoneGrace time.Duration `json:"tombstone_grace"`

	// DeleteBucketsAfterRetire removes a bucket's rows once repair has
	// retired it.
	DeleteBucketsAfterRetire bool `json:"delete_buckets_after_retire"`

	// DeadLetterQueue, when set, names a queue in the same account that
	// receives a copy of every poison message.
	DeadLetterQueue string `json:"dead_letter_queue,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the versioned identity of the definition.
func (d *Definition) ID() ID {
	return ID{Account: d.Account, Name: d.Name, Version: d.Version}
}

// Ref returns the unversioned address of the definition.
func (d *Definition) Ref() Ref { return Ref{Account: d.Account, Name: d.Name} }

// BucketOf returns the bucket holding index.
func (d *Definition) BucketOf(index uint64) uint64 {
	return index / uint64(d.BucketSize)
}

// BucketStart returns the first index of bucket.
func (d *Definition) BucketStart(bucket uint64) uint64 {
	return bucket * uint64(d.BucketSize)
}

// Option configures a Definition at creation time.
type Option func(*Definition)

// WithBucketSize sets the bucket size.
func WithBucketSize(n int) Option {
	return func(d *Definition) { d.BucketSize = n }
}

// WithMaxDeliveryCount sets the poison threshold.
func WithMaxDeliveryCount(n int) Option {
	return func(d *Definition) { d.MaxDeliveryCount = n }
}

// WithRepairInterval sets the repair period.
func WithRepairInterval(interval time.Duration) Option {
	return func(d *Definition) { d.RepairInterval = interval }
}

// WithTombstoneGrace sets the grace period for passed buckets.
func WithTombstoneGrace(grace time.Duration) Option {
	return func(d *Definition) { d.TombstoneGrace = grace }
}

// WithDeleteBucketsAfterRetire removes retired buckets' rows.
func WithDeleteBucketsAfterRetire() Option {
	return func(d *Definition) { d.DeleteBucketsAfterRetire = true }
}

// WithDeadLetterQueue forwards poison messages to the named queue in the
// same account.
func WithDeadLetterQueue(name string) Option {
	return func(d *Definition) { d.DeadLetterQueue = name }
}

// Validate checks the tunables of a definition.
func (d *Definition) Validate() error {
	if err := d.Ref().Validate(); err != nil {
		return err
	}
	if d.BucketSize <= 0 {
		return fmt.Errorf("queue: bucket size must be positive, got %d", d.BucketSize)
	}
	if d.MaxDeliveryCount <= 0 {
		return fmt.Errorf("queue: max delivery count must be positive, got %d", d.MaxDeliveryCount)
	}
	if d.RepairInterval <= 0 {
		return fmt.Errorf("queue: repair interval must be positive, got %s", d.RepairInterval)
	}
	if d.TombstoneGrace < 0 {
		return fmt.Errorf("queue: tombstone grace must not be negative, got %s", d.TombstoneGrace)
	}
	if d.DeadLetterQueue == d.Name {
		return fmt.Errorf("queue: %s cannot be its own dead letter queue", d.Ref())
	}
	return nil
}
