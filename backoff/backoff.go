// Package backoff holds the wait strategies and the bounded retry loop
// wrapped around every conditional write in the queue.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before retry attempt n, counting from 1.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(attempt int) time.Duration

// Delay calls f.
func (f StrategyFunc) Delay(attempt int) time.Duration { return f(attempt) }

// NewConstant waits interval before every retry.
func NewConstant(interval time.Duration) Strategy {
	return StrategyFunc(func(int) time.Duration { return interval })
}

// Exponential doubles the wait on every attempt starting at Initial and
// never exceeding Max (no cap when Max is zero). With Jitter set the wait
// is drawn uniformly from [0, ceiling] so contending writers spread out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential returns a deterministic doubling strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter returns a doubling strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay implements Strategy.
func (e *Exponential) Delay(attempt int) time.Duration {
	ceil := e.ceiling(attempt)
	if !e.Jitter || ceil <= 0 {
		return ceil
	}
	return rand.N(ceil + 1) //nolint:gosec // jitter does not need crypto rand
}

func (e *Exponential) ceiling(attempt int) time.Duration {
	d := e.Initial
	for n := 1; n < attempt; n++ {
		if e.Max > 0 && d >= e.Max {
			break
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// DefaultStrategy is the wait used by conditional-write retries when a
// Policy names none: 10ms doubling to 500ms, jittered.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(10*time.Millisecond, 500*time.Millisecond)
}
