package ext

import (
	"context"
	"log/slog"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type messagePutEntry struct {
	name string
	hook MessagePut
}

type messageConsumedEntry struct {
	name string
	hook MessageConsumed
}

type messageAckedEntry struct {
	name string
	hook MessageAcked
}

type messageRequeuedEntry struct {
	name string
	hook MessageRequeued
}

type poisonMessageEntry struct {
	name string
	hook PoisonMessage
}

type queueCreatedEntry struct {
	name string
	hook QueueCreated
}

type queueDeletingEntry struct {
	name string
	hook QueueDeleting
}

type queueDeletedEntry struct {
	name string
	hook QueueDeleted
}

type bucketRetiredEntry struct {
	name string
	hook BucketRetired
}

type leadershipChangedEntry struct {
	name string
	hook LeadershipChanged
}

type allocationChangedEntry struct {
	name string
	hook AllocationChanged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	messagePut        []messagePutEntry
	messageConsumed   []messageConsumedEntry
	messageAcked      []messageAckedEntry
	messageRequeued   []messageRequeuedEntry
	poisonMessage     []poisonMessageEntry
	queueCreated      []queueCreatedEntry
	queueDeleting     []queueDeletingEntry
	queueDeleted      []queueDeletedEntry
	bucketRetired     []bucketRetiredEntry
	leadershipChanged []leadershipChangedEntry
	allocationChanged []allocationChangedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(MessagePut); ok {
		r.messagePut = append(r.messagePut, messagePutEntry{name, h})
	}
	if h, ok := e.(MessageConsumed); ok {
		r.messageConsumed = append(r.messageConsumed, messageConsumedEntry{name, h})
	}
	if h, ok := e.(MessageAcked); ok {
		r.messageAcked = append(r.messageAcked, messageAckedEntry{name, h})
	}
	if h, ok := e.(MessageRequeued); ok {
		r.messageRequeued = append(r.messageRequeued, messageRequeuedEntry{name, h})
	}
	if h, ok := e.(PoisonMessage); ok {
		r.poisonMessage = append(r.poisonMessage, poisonMessageEntry{name, h})
	}
	if h, ok := e.(QueueCreated); ok {
		r.queueCreated = append(r.queueCreated, queueCreatedEntry{name, h})
	}
	if h, ok := e.(QueueDeleting); ok {
		r.queueDeleting = append(r.queueDeleting, queueDeletingEntry{name, h})
	}
	if h, ok := e.(QueueDeleted); ok {
		r.queueDeleted = append(r.queueDeleted, queueDeletedEntry{name, h})
	}
	if h, ok := e.(BucketRetired); ok {
		r.bucketRetired = append(r.bucketRetired, bucketRetiredEntry{name, h})
	}
	if h, ok := e.(LeadershipChanged); ok {
		r.leadershipChanged = append(r.leadershipChanged, leadershipChangedEntry{name, h})
	}
	if h, ok := e.(AllocationChanged); ok {
		r.allocationChanged = append(r.allocationChanged, allocationChangedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Message event emitters
// ──────────────────────────────────────────────────

// EmitMessagePut notifies all extensions that implement MessagePut.
func (r *Registry) EmitMessagePut(ctx context.Context, q queue.ID, m *message.Message) {
	for _, e := range r.messagePut {
		if err := e.hook.OnMessagePut(ctx, q, m); err != nil {
			r.logHookError("OnMessagePut", e.name, err)
		}
	}
}

// EmitMessageConsumed notifies all extensions that implement MessageConsumed.
func (r *Registry) EmitMessageConsumed(ctx context.Context, q queue.ID, m *message.Message) {
	for _, e := range r.messageConsumed {
		if err := e.hook.OnMessageConsumed(ctx, q, m); err != nil {
			r.logHookError("OnMessageConsumed", e.name, err)
		}
	}
}

// EmitMessageAcked notifies all extensions that implement MessageAcked.
func (r *Registry) EmitMessageAcked(ctx context.Context, q queue.ID, index uint64) {
	for _, e := range r.messageAcked {
		if err := e.hook.OnMessageAcked(ctx, q, index); err != nil {
			r.logHookError("OnMessageAcked", e.name, err)
		}
	}
}

// EmitMessageRequeued notifies all extensions that implement MessageRequeued.
func (r *Registry) EmitMessageRequeued(ctx context.Context, q queue.ID, from *message.Message, toIndex uint64) {
	for _, e := range r.messageRequeued {
		if err := e.hook.OnMessageRequeued(ctx, q, from, toIndex); err != nil {
			r.logHookError("OnMessageRequeued", e.name, err)
		}
	}
}

// EmitPoisonMessage notifies all extensions that implement PoisonMessage.
func (r *Registry) EmitPoisonMessage(ctx context.Context, q queue.ID, m *message.Message, entry *dlq.Entry) {
	for _, e := range r.poisonMessage {
		if err := e.hook.OnPoisonMessage(ctx, q, m, entry); err != nil {
			r.logHookError("OnPoisonMessage", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Queue event emitters
// ──────────────────────────────────────────────────

// EmitQueueCreated notifies all extensions that implement QueueCreated.
func (r *Registry) EmitQueueCreated(ctx context.Context, def *queue.Definition) {
	for _, e := range r.queueCreated {
		if err := e.hook.OnQueueCreated(ctx, def); err != nil {
			r.logHookError("OnQueueCreated", e.name, err)
		}
	}
}

// EmitQueueDeleting notifies all extensions that implement QueueDeleting.
func (r *Registry) EmitQueueDeleting(ctx context.Context, def *queue.Definition) {
	for _, e := range r.queueDeleting {
		if err := e.hook.OnQueueDeleting(ctx, def); err != nil {
			r.logHookError("OnQueueDeleting", e.name, err)
		}
	}
}

// EmitQueueDeleted notifies all extensions that implement QueueDeleted.
func (r *Registry) EmitQueueDeleted(ctx context.Context, q queue.ID) {
	for _, e := range r.queueDeleted {
		if err := e.hook.OnQueueDeleted(ctx, q); err != nil {
			r.logHookError("OnQueueDeleted", e.name, err)
		}
	}
}

// EmitBucketRetired notifies all extensions that implement BucketRetired.
func (r *Registry) EmitBucketRetired(ctx context.Context, q queue.ID, bucket uint64) {
	for _, e := range r.bucketRetired {
		if err := e.hook.OnBucketRetired(ctx, q, bucket); err != nil {
			r.logHookError("OnBucketRetired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Cluster event emitters
// ──────────────────────────────────────────────────

// EmitLeadershipChanged notifies all extensions that implement LeadershipChanged.
func (r *Registry) EmitLeadershipChanged(ctx context.Context, role cluster.Role, leader bool) {
	for _, e := range r.leadershipChanged {
		if err := e.hook.OnLeadershipChanged(ctx, role, leader); err != nil {
			r.logHookError("OnLeadershipChanged", e.name, err)
		}
	}
}

// EmitAllocationChanged notifies all extensions that implement AllocationChanged.
func (r *Registry) EmitAllocationChanged(ctx context.Context, acquired, released []string) {
	for _, e := range r.allocationChanged {
		if err := e.hook.OnAllocationChanged(ctx, acquired, released); err != nil {
			r.logHookError("OnAllocationChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
