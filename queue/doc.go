// Package queue defines queue definitions, their identities and versions,
// the persistence contract for definitions, and per-account throttling.
//
// A queue is addressed by callers as a [Ref] (account and name). Every
// time a queue is deleted and recreated under the same name it gets a new
// version, and all storage for messages, counters and pointers is keyed by
// the versioned [ID]. At most one version of a Ref is [StatusActive].
//
// # Throttling
//
// [Limiter] enforces per-account and per-queue request rates with a
// token-bucket limiter (golang.org/x/time/rate):
//
//	l := queue.NewLimiter(queue.Limit{Account: "acme", Rate: 100, Burst: 200})
//	if !l.Allow(ref) {
//	    return cassieq.ErrThrottled
//	}
//
// Accounts and queues without a [Limit] are not throttled.
package queue
