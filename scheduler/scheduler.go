// Package scheduler runs the node's background loops.
//
// Three shapes are supported: [Scheduler.Once] runs a task after a delay,
// [Scheduler.Every] runs a task repeatedly with a fixed delay measured
// from the end of the previous run, and [Scheduler.Cron] runs a task on a
// cron expression. Each returns a [Handle]; cancelling it cancels the
// task's context so a task blocked in a CAS retry backoff aborts promptly.
//
// Every execution goes through the scheduler's middleware chain.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/middleware"
)

// Func is the body of a scheduled task.
type Func func(ctx context.Context) error

// Spec names a scheduled task.
type Spec struct {
	Name    string
	Queue   string
	Timeout time.Duration
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cassieq/scheduler: parse %q: %w", expr, err)
	}
	return s, nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMiddleware sets the chain every execution runs through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Scheduler) { s.chain = middleware.Chain(mws...) }
}

// WithClock sets the clock every wait and cron lookup goes through.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler owns a set of running tasks.
type Scheduler struct {
	chain  middleware.Middleware
	clock  clock.Clock
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// New creates a Scheduler. Tasks may be scheduled until Stop is called;
// a stopped Scheduler cannot be restarted.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		chain:  middleware.Chain(),
		clock:  clock.System{},
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle controls one scheduled task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the task. A running execution sees its context cancelled.
// Cancel does not wait; use Done for that.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the task's goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Once runs fn once after delay.
func (s *Scheduler) Once(spec Spec, delay time.Duration, fn Func) *Handle {
	return s.spawn(spec, func(ctx context.Context) {
		if !s.wait(ctx, delay) {
			return
		}
		s.run(ctx, spec, 1, fn)
	})
}

// Every runs fn repeatedly, waiting interval after each run completes. The
// first run happens after a random delay in [0, jitter).
func (s *Scheduler) Every(spec Spec, interval, jitter time.Duration, fn Func) *Handle {
	return s.spawn(spec, func(ctx context.Context) {
		if !s.wait(ctx, s.clock.Jitter(jitter)) {
			return
		}
		for attempt := 1; ; attempt++ {
			s.run(ctx, spec, attempt, fn)
			if !s.wait(ctx, interval) {
				return
			}
		}
	})
}

// Cron runs fn on the given cron expression.
func (s *Scheduler) Cron(spec Spec, expr string, fn Func) (*Handle, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return s.spawn(spec, func(ctx context.Context) {
		for attempt := 1; ; attempt++ {
			now := s.clock.Now()
			if !s.wait(ctx, sched.Next(now).Sub(now)) {
				return
			}
			s.run(ctx, spec, attempt, fn)
		}
	}), nil
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop cancels every task and waits for them to exit or ctx to expire.
// Tasks scheduled afterwards never run.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cassieq/scheduler: stop: %w", ctx.Err())
	}
}

func (s *Scheduler) spawn(spec Spec, body func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		cancel()
		close(h.done)
		s.logger.Warn("task scheduled after stop",
			slog.String("task", spec.Name),
			slog.String("queue", spec.Queue),
		)
		return h
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()
		body(ctx)
	}()
	return h
}

func (s *Scheduler) run(ctx context.Context, spec Spec, attempt int, fn Func) {
	task := &middleware.Task{
		Name:    spec.Name,
		Queue:   spec.Queue,
		Attempt: attempt,
		Timeout: spec.Timeout,
	}
	// Errors are reported by the middleware chain; loops keep going.
	_ = s.chain(ctx, task, middleware.Handler(fn))
}

// wait sleeps for d on the scheduler's clock and reports whether ctx is
// still live.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	return s.clock.Sleep(ctx, d) == nil
}
