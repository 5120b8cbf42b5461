package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines a request rate for an account, or for one queue of an
// account when Queue is set.
type Limit struct {
	// Account the limit applies to.
	Account string

	// Queue narrows the limit to one queue name. Empty applies the limit
	// to every queue of the account combined.
	Queue string

	// Rate is the sustained requests per second. Zero disables the limit.
	Rate float64

	// Burst is the token-bucket burst size. Defaults to 1 if Rate is set
	// but Burst is zero.
	Burst int
}

func (l Limit) key() string {
	if l.Queue == "" {
		return l.Account
	}
	return l.Account + "/" + l.Queue
}

func newLimiter(l Limit) *rate.Limiter {
	if l.Rate <= 0 {
		return nil
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.Rate), burst)
}

// Limiter throttles put and consume requests per account and per queue.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a Limiter with the given limits.
func NewLimiter(limits ...Limit) *Limiter {
	l := &Limiter{limiters: make(map[string]*rate.Limiter, len(limits))}
	for _, lim := range limits {
		l.Set(lim)
	}
	return l
}

// Set replaces (or creates) a limit. A zero Rate removes it.
func (l *Limiter) Set(lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := newLimiter(lim)
	if rl == nil {
		delete(l.limiters, lim.key())
		return
	}
	l.limiters[lim.key()] = rl
}

// Allow reports whether a request against ref may proceed. Both the queue
// limit and the account limit must admit it; the account token is only
// spent when the queue limit admits the request.
func (l *Limiter) Allow(ref Ref) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rl := l.limiters[Limit{Account: ref.Account, Queue: ref.Name}.key()]; rl != nil && !rl.Allow() {
		return false
	}
	if rl := l.limiters[ref.Account]; rl != nil && !rl.Allow() {
		return false
	}
	return true
}
