package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/ext"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.QueueCreated      = (*Extension)(nil)
	_ ext.QueueDeleting     = (*Extension)(nil)
	_ ext.QueueDeleted      = (*Extension)(nil)
	_ ext.MessageRequeued   = (*Extension)(nil)
	_ ext.PoisonMessage     = (*Extension)(nil)
	_ ext.BucketRetired     = (*Extension)(nil)
	_ ext.LeadershipChanged = (*Extension)(nil)
	_ ext.AllocationChanged = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Account    string         `json:"account,omitempty"`
	Node       string         `json:"node,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges cassieq lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	node     string
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Queue lifecycle hooks ───────────────────────────

// OnQueueCreated implements ext.QueueCreated.
func (e *Extension) OnQueueCreated(ctx context.Context, def *queue.Definition) error {
	return e.record(ctx, ActionQueueCreated, SeverityInfo, OutcomeSuccess,
		ResourceQueue, def.ID().String(), def.Account, CategoryQueue, "",
		"version", def.Version,
		"bucket_size", def.BucketSize,
		"max_delivery_count", def.MaxDeliveryCount,
	)
}

// OnQueueDeleting implements ext.QueueDeleting.
func (e *Extension) OnQueueDeleting(ctx context.Context, def *queue.Definition) error {
	return e.record(ctx, ActionQueueDeleting, SeverityWarning, OutcomeSuccess,
		ResourceQueue, def.ID().String(), def.Account, CategoryQueue, "",
		"version", def.Version,
	)
}

// OnQueueDeleted implements ext.QueueDeleted.
func (e *Extension) OnQueueDeleted(ctx context.Context, q queue.ID) error {
	return e.record(ctx, ActionQueueDeleted, SeverityInfo, OutcomeSuccess,
		ResourceQueue, q.String(), q.Account, CategoryQueue, "",
		"version", q.Version,
	)
}

// ── Message hooks ───────────────────────────────────

// OnMessageRequeued implements ext.MessageRequeued.
func (e *Extension) OnMessageRequeued(ctx context.Context, q queue.ID, from *message.Message, toIndex uint64) error {
	return e.record(ctx, ActionMessageRequeued, SeverityWarning, OutcomeFailure,
		ResourceMessage, messageID(q, from.Index), q.Account, CategoryMessage, "visibility expired",
		"to_index", toIndex,
		"delivery_count", from.DeliveryCount,
	)
}

// OnPoisonMessage implements ext.PoisonMessage.
func (e *Extension) OnPoisonMessage(ctx context.Context, q queue.ID, m *message.Message, entry *dlq.Entry) error {
	kv := []any{"delivery_count", m.DeliveryCount}
	reason := "poison"
	if entry != nil {
		kv = append(kv, "dlq_id", entry.ID.String(), "max_delivery_count", entry.MaxDeliveryCount)
		reason = entry.Reason
	}
	return e.record(ctx, ActionMessagePoisoned, SeverityCritical, OutcomeFailure,
		ResourceMessage, messageID(q, m.Index), q.Account, CategoryMessage, reason, kv...)
}

// OnBucketRetired implements ext.BucketRetired.
func (e *Extension) OnBucketRetired(ctx context.Context, q queue.ID, bucket uint64) error {
	return e.record(ctx, ActionBucketRetired, SeverityInfo, OutcomeSuccess,
		ResourceBucket, q.String()+"#"+strconv.FormatUint(bucket, 10), q.Account, CategoryMessage, "",
	)
}

// ── Cluster hooks ───────────────────────────────────

// OnLeadershipChanged implements ext.LeadershipChanged.
func (e *Extension) OnLeadershipChanged(ctx context.Context, role cluster.Role, leader bool) error {
	action, severity := ActionLeadershipAcquired, SeverityInfo
	if !leader {
		action, severity = ActionLeadershipLost, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceRole, string(role), "", CategoryCluster, "",
	)
}

// OnAllocationChanged implements ext.AllocationChanged.
func (e *Extension) OnAllocationChanged(ctx context.Context, acquired, released []string) error {
	return e.record(ctx, ActionAllocationChanged, SeverityInfo, OutcomeSuccess,
		ResourceNode, e.node, "", CategoryCluster, "",
		"acquired", acquired,
		"released", released,
	)
}

// ── Internal helpers ────────────────────────────────

func messageID(q queue.ID, index uint64) string {
	return q.String() + "@" + strconv.FormatUint(index, 10)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, account, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Account:    account,
		Node:       e.node,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
