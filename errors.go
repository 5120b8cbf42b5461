package cassieq

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("cassieq: no store configured")
	ErrStoreClosed     = errors.New("cassieq: store closed")
	ErrMigrationFailed = errors.New("cassieq: migration failed")

	// Not found errors.
	ErrQueueNotFound   = errors.New("cassieq: queue not found")
	ErrMessageNotFound = errors.New("cassieq: message not found")
	ErrDLQNotFound     = errors.New("cassieq: dlq entry not found")
	ErrMemberNotFound  = errors.New("cassieq: cluster member not found")

	// Conflict errors.
	ErrQueueExists     = errors.New("cassieq: queue already exists")
	ErrVersionConflict = errors.New("cassieq: queue version already taken")
	ErrMessageConflict = errors.New("cassieq: message already exists with a different identity")
	ErrAlreadyDeleting = errors.New("cassieq: queue is already being deleted")

	// Concurrency errors. ErrContention never leaves the engine; callers
	// retry or treat the lost race as already satisfied.
	ErrContention = errors.New("cassieq: conditional write lost a race")
	ErrTransient  = errors.New("cassieq: transient storage failure")
	ErrThrottled  = errors.New("cassieq: account request rate exceeded")

	// Receipt errors.
	ErrStaleReceipt   = errors.New("cassieq: pop receipt is stale")
	ErrInvalidReceipt = errors.New("cassieq: pop receipt is malformed")

	// Configuration errors.
	ErrInvalidConfig = errors.New("cassieq: invalid configuration")

	// Cluster errors.
	ErrNotLeader     = errors.New("cassieq: not the leader")
	ErrEngineStopped = errors.New("cassieq: engine stopped")
)
