// Package middleware provides composable middleware for background tasks.
//
// Every periodic loop a node runs (repair sweeps, allocation refreshes,
// deletion jobs, the definition janitor) is a [Task] executed through a
// [Middleware] chain. Chains are composed with [Chain] and applied
// right-to-left: the first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs task name, queue, duration and outcome
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the task context after the task's Timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-task duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
