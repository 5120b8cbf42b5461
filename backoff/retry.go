package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
)

// Policy bounds a retry loop.
type Policy struct {
	// Strategy computes the wait before each retry. Nil means
	// DefaultStrategy.
	Strategy Strategy

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Clock sleeps between attempts. Nil means the wall clock.
	Clock clock.Clock
}

// NewPolicy builds an ExponentialWithJitter policy from the
// wait/max-wait/max-retries triple used in configuration.
func NewPolicy(wait, maxWait time.Duration, maxRetries int, clk clock.Clock) Policy {
	return Policy{
		Strategy:   NewExponentialWithJitter(wait, maxWait),
		MaxRetries: maxRetries,
		Clock:      clk,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped
// error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it returns nil, a permanent error, or the retry
// budget is spent. The sleep between attempts is cut short when ctx is
// done, so a cancelled task never leaves a retry loop behind. Exhausting
// the budget returns an error wrapping cassieq.ErrTransient and the last
// failure.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}

	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := clk.Sleep(ctx, strategy.Delay(attempt)); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		last = err
	}

	return fmt.Errorf("%w: %d attempts: %w", cassieq.ErrTransient, p.MaxRetries+1, last)
}
