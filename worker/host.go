// Package worker runs the per-queue background loops of the queue
// versions allocated to this node.
//
// A Host is the allocation.Host the allocation manager drives: acquiring a
// queue version starts its repair loop on the scheduler, releasing it
// cancels the loop. Loops are keyed by queue version, so a recreated queue
// gets a fresh loop and the deleted version's loop is released.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/repair"
	"github.com/paradoxical-io/cassieq-sub001/scheduler"
)

// Sweeper runs one repair pass over a queue version.
// *repair.Worker satisfies this interface.
type Sweeper interface {
	Sweep(ctx context.Context, def *queue.Definition) (repair.Result, error)
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithJitter bounds the random delay before a loop's first sweep.
func WithJitter(d time.Duration) HostOption {
	return func(h *Host) { h.jitter = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// Host owns the repair loops of the queue versions this node serves.
type Host struct {
	defs    queue.Store
	sweeper Sweeper
	sched   *scheduler.Scheduler
	jitter  time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	loops map[string]*scheduler.Handle
}

// NewHost creates a Host.
func NewHost(defs queue.Store, sweeper Sweeper, sched *scheduler.Scheduler, opts ...HostOption) *Host {
	h := &Host{
		defs:    defs,
		sweeper: sweeper,
		sched:   sched,
		logger:  slog.Default(),
		loops:   make(map[string]*scheduler.Handle),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Acquire starts the repair loop of the queue version named r. Versions
// that are no longer active are skipped.
func (h *Host) Acquire(ctx context.Context, r string) error {
	q, err := queue.ParseID(r)
	if err != nil {
		return fmt.Errorf("cassieq/worker: acquire: %w", err)
	}
	def, err := h.defs.GetDefinition(ctx, q)
	if err != nil {
		return fmt.Errorf("cassieq/worker: acquire %s: %w", r, err)
	}
	if def.Status != queue.StatusActive {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.loops[r]; ok {
		return nil
	}

	spec := scheduler.Spec{Name: "repair", Queue: r, Timeout: def.RepairInterval * 4}
	h.loops[r] = h.sched.Every(spec, def.RepairInterval, h.jitter, func(ctx context.Context) error {
		_, err := h.sweeper.Sweep(ctx, def)
		return err
	})

	h.logger.Debug("repair loop started",
		slog.String("queue", r),
		slog.Duration("interval", def.RepairInterval),
	)
	return nil
}

// Release stops the repair loop of r and waits for a sweep in progress to
// return, or for ctx to expire.
func (h *Host) Release(ctx context.Context, r string) error {
	h.mu.Lock()
	handle, ok := h.loops[r]
	delete(h.loops, r)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	handle.Cancel()
	select {
	case <-handle.Done():
	case <-ctx.Done():
		return fmt.Errorf("cassieq/worker: release %s: %w", r, ctx.Err())
	}

	h.logger.Debug("repair loop stopped", slog.String("queue", r))
	return nil
}

// Active returns the queue versions with a running loop, sorted.
func (h *Host) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.loops))
	for r := range h.loops {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Stop cancels every loop and waits for them, or for ctx to expire.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	loops := h.loops
	h.loops = make(map[string]*scheduler.Handle)
	h.mu.Unlock()

	for _, handle := range loops {
		handle.Cancel()
	}
	for r, handle := range loops {
		select {
		case <-handle.Done():
		case <-ctx.Done():
			h.logger.Warn("repair loop shutdown timed out", slog.String("queue", r))
			return fmt.Errorf("cassieq/worker: stop: %w", ctx.Err())
		}
	}
	return nil
}
