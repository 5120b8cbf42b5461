package middleware

import (
	"context"
)

// Timeout returns middleware that enforces the task's execution deadline.
// Tasks with a zero Timeout run unbounded.
func Timeout() Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		if t.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
