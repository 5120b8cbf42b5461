package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Source enumerates every resource that needs a worker somewhere.
type Source func(ctx context.Context) ([]Resource, error)

// Host starts and stops the workers of a resource.
type Host interface {
	Acquire(ctx context.Context, r Resource) error
	Release(ctx context.Context, r Resource) error
}

// Emitter receives allocation changes.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitAllocationChanged(ctx context.Context, acquired, released []string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRefreshLimit bounds how often RequestRefresh may trigger a refresh.
func WithRefreshLimit(every time.Duration, burst int) ManagerOption {
	return func(m *Manager) { m.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// WithEmitter sets the allocation change receiver.
func WithEmitter(e Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Manager keeps the set of running resources in line with the allocator.
type Manager struct {
	alloc   *Allocator
	source  Source
	host    Host
	limiter *rate.Limiter
	emitter Emitter
	logger  *slog.Logger

	mu      sync.Mutex
	running map[Resource]struct{}
}

// NewManager creates a Manager.
func NewManager(alloc *Allocator, source Source, host Host, opts ...ManagerOption) *Manager {
	m := &Manager{
		alloc:   alloc,
		source:  source,
		host:    host,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  slog.Default(),
		running: make(map[Resource]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh recomputes the allocation and acquires or releases resources to
// match it. If the allocation cannot be computed the running set is left
// alone until the next tick.
func (m *Manager) Refresh(ctx context.Context) error {
	all, err := m.source(ctx)
	if err != nil {
		return fmt.Errorf("cassieq/allocation: list resources: %w", err)
	}
	mine, err := m.alloc.Allocate(ctx, all)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[Resource]struct{}, len(mine))
	for _, r := range mine {
		want[r] = struct{}{}
	}

	var acquired, released []string
	var errs []error
	for r := range m.running {
		if _, ok := want[r]; ok {
			continue
		}
		if err := m.host.Release(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", r, err))
			continue
		}
		delete(m.running, r)
		released = append(released, r)
	}
	for _, r := range mine {
		if _, ok := m.running[r]; ok {
			continue
		}
		if err := m.host.Acquire(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("acquire %s: %w", r, err))
			continue
		}
		m.running[r] = struct{}{}
		acquired = append(acquired, r)
	}

	if len(acquired) > 0 || len(released) > 0 {
		slices.Sort(released)
		m.logger.Info("allocation changed",
			slog.Int("running", len(m.running)),
			slog.Any("acquired", acquired),
			slog.Any("released", released),
		)
		if m.emitter != nil {
			m.emitter.EmitAllocationChanged(ctx, acquired, released)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cassieq/allocation: refresh: %w", errors.Join(errs...))
	}
	return nil
}

// RequestRefresh runs Refresh unless refreshes are being requested faster
// than the configured limit. It reports whether a refresh ran.
func (m *Manager) RequestRefresh(ctx context.Context) (bool, error) {
	if !m.limiter.Allow() {
		return false, nil
	}
	return true, m.Refresh(ctx)
}

// Running returns the resources currently acquired, sorted.
func (m *Manager) Running() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, 0, len(m.running))
	for r := range m.running {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// ReleaseAll releases every running resource.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for r := range m.running {
		if err := m.host.Release(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", r, err))
		}
		delete(m.running, r)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cassieq/allocation: release all: %w", errors.Join(errs...))
	}
	return nil
}
