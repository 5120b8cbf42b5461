// Package lifecycle creates and deletes queue versions.
//
// Every (account, name) pair has a sequence of versions and at most one of
// them is active. Creating a queue writes the next version as active,
// conditional on no version being active. Deleting marks the active
// version deleting and hands a deletion job for that exact version to the
// scheduler. The job only touches rows keyed by its version and only moves
// that version's definition from deleting to deleted, so it may run long
// after the name has been recreated without harming the new version.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/scheduler"
)

// Emitter receives queue lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitQueueCreated(ctx context.Context, def *queue.Definition)
	EmitQueueDeleting(ctx context.Context, def *queue.Definition)
	EmitQueueDeleted(ctx context.Context, q queue.ID)
}

// Defaults are applied to definitions created without explicit options.
type Defaults struct {
	BucketSize       int
	MaxDeliveryCount int
	RepairInterval   time.Duration
	TombstoneGrace   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler sets where deletion jobs run. Without one, deletions are
// only carried out by RunDeletion and ResumeDeletions.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithBus sets the event bus lifecycle changes are published on.
func WithBus(b event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithEmitter sets the lifecycle event receiver.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithPolicy sets the retry policy for version races.
func WithPolicy(p backoff.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithDeletionDelay sets how long after Delete the deletion job starts.
func WithDeletionDelay(d time.Duration) Option {
	return func(m *Manager) { m.deletionDelay = d }
}

// WithDeletionGrace sets how long a version must have been deleting
// before ResumeDeletions takes it over. Repair loops on other nodes are
// released within an allocation refresh, so the grace should cover one.
func WithDeletionGrace(d time.Duration) Option {
	return func(m *Manager) { m.deletionGrace = d }
}

// WithRetention sets how long deleted definitions are kept before Purge
// removes them.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithOrigin sets the node identity stamped on published events.
func WithOrigin(origin string) Option {
	return func(m *Manager) { m.origin = origin }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns queue definitions.
type Manager struct {
	defs     queue.Store
	counter  *monoton.Allocator
	pointers *pointer.Pointers
	messages *message.Service
	defaults Defaults

	sched         *scheduler.Scheduler
	bus           event.Bus
	emitter       Emitter
	clock         clock.Clock
	policy        backoff.Policy
	deletionDelay time.Duration
	deletionGrace time.Duration
	retention     time.Duration
	origin        string
	logger        *slog.Logger
}

// New creates a Manager.
func New(defs queue.Store, counter *monoton.Allocator, pointers *pointer.Pointers, messages *message.Service, defaults Defaults, opts ...Option) *Manager {
	m := &Manager{
		defs:      defs,
		counter:   counter,
		pointers:  pointers,
		messages:  messages,
		defaults:  defaults,
		clock:     clock.System{},
		policy:    backoff.Policy{MaxRetries: 10},
		retention: 24 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy.Clock == nil {
		m.policy.Clock = m.clock
	}
	return m
}

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

// Create writes a new active version of ref. It returns
// cassieq.ErrQueueExists when ref already has an active version.
func (m *Manager) Create(ctx context.Context, ref queue.Ref, opts ...queue.Option) (*queue.Definition, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: create: %w: %w", cassieq.ErrInvalidConfig, err)
	}

	var def *queue.Definition
	err := backoff.Retry(ctx, m.policy, func(ctx context.Context) error {
		latest, used, err := m.defs.LatestVersion(ctx, ref)
		if err != nil {
			return err
		}
		version := 0
		if used {
			version = latest + 1
		}

		d, err := m.build(ref, version, opts)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = m.defs.CreateDefinition(ctx, d)
		switch {
		case errors.Is(err, cassieq.ErrQueueExists):
			return backoff.Permanent(err)
		case err != nil:
			// ErrVersionConflict: another creator took the version.
			return err
		}
		def = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: create %s: %w", ref, err)
	}

	m.logger.Info("queue created",
		slog.String("queue", def.ID().String()),
		slog.Int("bucket_size", def.BucketSize),
	)
	if m.emitter != nil {
		m.emitter.EmitQueueCreated(ctx, def)
	}
	m.publish(ctx, event.KindQueueAdded, def.ID())
	return def, nil
}

func (m *Manager) build(ref queue.Ref, version int, opts []queue.Option) (*queue.Definition, error) {
	now := m.clock.Now()
	d := &queue.Definition{
		Account:          ref.Account,
		Name:             ref.Name,
		Version:          version,
		Status:           queue.StatusActive,
		BucketSize:       m.defaults.BucketSize,
		MaxDeliveryCount: m.defaults.MaxDeliveryCount,
		RepairInterval:   m.defaults.RepairInterval,
		TombstoneGrace:   m.defaults.TombstoneGrace,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cassieq.ErrInvalidConfig, err)
	}
	return d, nil
}

// ──────────────────────────────────────────────────
// Delete
// ──────────────────────────────────────────────────

// Delete marks the active version of ref deleting and schedules its
// deletion job. It returns as soon as the status is written.
func (m *Manager) Delete(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	def, err := m.defs.GetActiveDefinition(ctx, ref)
	if errors.Is(err, cassieq.ErrQueueNotFound) {
		return nil, fmt.Errorf("cassieq/lifecycle: delete %s: %w", ref, m.whyNotActive(ctx, ref))
	}
	if err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: delete %s: %w", ref, err)
	}

	now := m.clock.Now()
	ok, err := m.defs.UpdateDefinitionStatus(ctx, def.ID(), queue.StatusActive, queue.StatusDeleting, now)
	if err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: delete %s: %w", def.ID(), err)
	}
	if !ok {
		return nil, fmt.Errorf("cassieq/lifecycle: delete %s: %w", def.ID(), cassieq.ErrAlreadyDeleting)
	}
	def.Status = queue.StatusDeleting
	def.UpdatedAt = now

	m.logger.Info("queue deleting", slog.String("queue", def.ID().String()))
	m.scheduleDeletion(def.ID())
	if m.emitter != nil {
		m.emitter.EmitQueueDeleting(ctx, def)
	}
	m.publish(ctx, event.KindQueueDeleting, def.ID())
	return def, nil
}

// whyNotActive distinguishes a name whose latest version is still being
// deleted from one that does not exist.
func (m *Manager) whyNotActive(ctx context.Context, ref queue.Ref) error {
	latest, used, err := m.defs.LatestVersion(ctx, ref)
	if err != nil {
		return err
	}
	if !used {
		return cassieq.ErrQueueNotFound
	}
	def, err := m.defs.GetDefinition(ctx, queue.ID{Account: ref.Account, Name: ref.Name, Version: latest})
	if err != nil {
		return err
	}
	if def.Status == queue.StatusDeleting {
		return cassieq.ErrAlreadyDeleting
	}
	return cassieq.ErrQueueNotFound
}

func (m *Manager) scheduleDeletion(q queue.ID) {
	if m.sched == nil {
		return
	}
	m.sched.Once(scheduler.Spec{Name: "queue.delete", Queue: q.String()}, m.deletionDelay, func(ctx context.Context) error {
		return m.RunDeletion(ctx, q)
	})
}

// RunDeletion erases the rows, pointers and counter of version q and then
// marks q deleted. It is idempotent and never reads or writes any other
// version. A version that is not deleting is left alone.
func (m *Manager) RunDeletion(ctx context.Context, q queue.ID) error {
	def, err := m.defs.GetDefinition(ctx, q)
	if err != nil {
		return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
	}
	if def.Status != queue.StatusDeleting {
		return nil
	}

	next, err := m.counter.Current(ctx, q)
	if err != nil {
		return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
	}
	if next > 0 {
		last := def.BucketOf(next - 1)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for b := uint64(0); b <= last; b++ {
			bucket := message.Bucket{Number: b, Size: def.BucketSize}
			g.Go(func() error {
				return m.messages.DeleteAll(gctx, q, bucket)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
		}
	}

	if err := m.pointers.Reset(ctx, q); err != nil {
		return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
	}
	if err := m.counter.Reset(ctx, q); err != nil {
		return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
	}

	ok, err := m.defs.UpdateDefinitionStatus(ctx, q, queue.StatusDeleting, queue.StatusDeleted, m.clock.Now())
	if err != nil {
		return fmt.Errorf("cassieq/lifecycle: run deletion %s: %w", q, err)
	}
	if !ok {
		// Another job finished first.
		return nil
	}

	m.logger.Info("queue deleted", slog.String("queue", q.String()), slog.Uint64("messages", next))
	if m.emitter != nil {
		m.emitter.EmitQueueDeleted(ctx, q)
	}
	m.publish(ctx, event.KindQueueDeleted, q)
	return nil
}

// ResumeDeletions runs the deletion job of every version stuck in
// deleting, for instance because the node that scheduled it died.
// Versions that entered deleting less than the deletion grace ago are
// left for a later run.
func (m *Manager) ResumeDeletions(ctx context.Context) error {
	defs, err := m.defs.ListDefinitions(ctx, queue.StatusDeleting)
	if err != nil {
		return fmt.Errorf("cassieq/lifecycle: resume deletions: %w", err)
	}
	cutoff := m.clock.Now().Add(-m.deletionGrace)
	var errs []error
	for _, d := range defs {
		if d.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.RunDeletion(ctx, d.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Purge removes deleted definitions older than the retention period and
// returns how many went away. The latest version of a name is kept so
// version numbers are never reused.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	defs, err := m.defs.ListDefinitions(ctx, queue.StatusDeleted)
	if err != nil {
		return 0, fmt.Errorf("cassieq/lifecycle: purge: %w", err)
	}
	cutoff := m.clock.Now().Add(-m.retention)
	n := 0
	for _, d := range defs {
		if d.UpdatedAt.After(cutoff) {
			continue
		}
		latest, _, err := m.defs.LatestVersion(ctx, d.Ref())
		if err != nil {
			return n, fmt.Errorf("cassieq/lifecycle: purge %s: %w", d.ID(), err)
		}
		if d.Version == latest {
			continue
		}
		ok, err := m.defs.DeleteDefinition(ctx, d.ID())
		if err != nil {
			return n, fmt.Errorf("cassieq/lifecycle: purge %s: %w", d.ID(), err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Active returns the active version of ref.
func (m *Manager) Active(ctx context.Context, ref queue.Ref) (*queue.Definition, error) {
	def, err := m.defs.GetActiveDefinition(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: get %s: %w", ref, err)
	}
	return def, nil
}

// List returns definitions in status, or all of them for "".
func (m *Manager) List(ctx context.Context, status queue.Status) ([]*queue.Definition, error) {
	defs, err := m.defs.ListDefinitions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("cassieq/lifecycle: list: %w", err)
	}
	return defs, nil
}

// Size counts the messages of version q that are not yet acknowledged.
// ok is false when q is not an active version.
func (m *Manager) Size(ctx context.Context, q queue.ID) (size int64, ok bool, err error) {
	def, err := m.defs.GetDefinition(ctx, q)
	if errors.Is(err, cassieq.ErrQueueNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cassieq/lifecycle: size %s: %w", q, err)
	}
	if def.Status != queue.StatusActive {
		return 0, false, nil
	}

	next, err := m.counter.Current(ctx, q)
	if err != nil {
		return 0, false, fmt.Errorf("cassieq/lifecycle: size %s: %w", q, err)
	}
	if next == 0 {
		return 0, true, nil
	}
	first, err := m.pointers.Bucket(ctx, q, pointer.Repair)
	if err != nil {
		return 0, false, fmt.Errorf("cassieq/lifecycle: size %s: %w", q, err)
	}
	if wm, err := m.pointers.Invisibility(ctx, q); err == nil && def.BucketOf(wm) < first {
		first = def.BucketOf(wm)
	}

	for b := first; b <= def.BucketOf(next-1); b++ {
		msgs, err := m.messages.GetMessages(ctx, q, message.Bucket{Number: b, Size: def.BucketSize})
		if err != nil {
			return 0, false, fmt.Errorf("cassieq/lifecycle: size %s: %w", q, err)
		}
		size += int64(len(msgs))
	}
	return size, true, nil
}

func (m *Manager) publish(ctx context.Context, kind event.Kind, q queue.ID) {
	if m.bus == nil {
		return
	}
	evt := event.New(kind, m.origin)
	evt.Account, evt.Queue, evt.Version = q.Account, q.Name, q.Version
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.Warn("publish lifecycle event failed",
			slog.String("kind", string(kind)),
			slog.String("queue", q.String()),
			slog.String("error", err.Error()),
		)
	}
}
