package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionQueueCreated       = "queue.created"
	ActionQueueDeleting      = "queue.deleting"
	ActionQueueDeleted       = "queue.deleted"
	ActionMessageRequeued    = "message.requeued"
	ActionMessagePoisoned    = "message.poisoned"
	ActionBucketRetired      = "bucket.retired"
	ActionLeadershipAcquired = "cluster.leadership_acquired"
	ActionLeadershipLost     = "cluster.leadership_lost"
	ActionAllocationChanged  = "cluster.allocation_changed"
)

// Audit event categories group related actions.
const (
	CategoryQueue   = "cassieq.queue"
	CategoryMessage = "cassieq.message"
	CategoryCluster = "cassieq.cluster"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceQueue   = "queue"
	ResourceMessage = "message"
	ResourceBucket  = "bucket"
	ResourceRole    = "role"
	ResourceNode    = "node"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionQueueCreated,
		ActionQueueDeleting,
		ActionQueueDeleted,
		ActionMessageRequeued,
		ActionMessagePoisoned,
		ActionBucketRetired,
		ActionLeadershipAcquired,
		ActionLeadershipLost,
		ActionAllocationChanged,
	}
}
