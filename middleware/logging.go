package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs task completion at debug level and
// failures at error level. Periodic loops run often, so successes are quiet.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("task", t.Name),
				slog.String("queue", t.Queue),
				slog.Int("attempt", t.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("task completed",
				slog.String("task", t.Name),
				slog.String("queue", t.Queue),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
