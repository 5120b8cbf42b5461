package k8s

import (
	"log/slog"

	"github.com/paradoxical-io/cassieq-sub001/clock"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLeasePrefix sets the prefix of the per-role Lease names.
// Default: "cassieq".
func WithLeasePrefix(prefix string) Option {
	return func(p *Provider) { p.leasePrefix = prefix }
}

// WithLabelSelector overrides the label selector used to discover member Pods.
// Default: "app.kubernetes.io/component=cassieq".
func WithLabelSelector(sel string) Option {
	return func(p *Provider) { p.labelSelector = sel }
}

// WithAnnotationPrefix sets the prefix for member-data annotations on Pods.
// Default: "cassieq.paradoxical.io/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) { p.annotationPrefix = prefix }
}

// WithClock sets the clock used for heartbeats and lease expiry.
func WithClock(c clock.Clock) Option {
	return func(p *Provider) { p.clock = c }
}
