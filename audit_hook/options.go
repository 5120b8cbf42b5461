package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions. Names outside AllActions
// never match a hook and are ignored.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithoutActions drops the listed actions from whatever set is enabled so
// far, e.g. to silence ActionMessageRequeued on busy queues.
func WithoutActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = make(map[string]bool)
			for _, a := range AllActions() {
				e.enabled[a] = true
			}
		}
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

// WithNode stamps every event with the emitting node.
func WithNode(nodeID string) Option {
	return func(e *Extension) { e.node = nodeID }
}

// WithLogger sets the logger used when the recorder fails.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
