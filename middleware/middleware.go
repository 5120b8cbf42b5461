package middleware

import (
	"context"
	"time"
)

// Task describes one execution of a background loop.
type Task struct {
	// Name identifies the loop, e.g. "repair" or "allocation.refresh".
	Name string
	// Queue is the "account/name/version" the task works on, if any.
	Queue string
	// Attempt counts executions of this task, starting at 1.
	Attempt int
	// Timeout bounds one execution. Zero means no limit.
	Timeout time.Duration
}

// Handler is the terminal function that executes task logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
type Middleware func(ctx context.Context, t *Task, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Chain(logging, recover) executes as:
//
//	logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}
