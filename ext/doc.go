// Package ext defines the extension system for cassieq.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, writing audit logs or paging someone about poison
// messages. Each lifecycle hook is a separate interface so extensions opt
// in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnPoisonMessage(ctx context.Context, q queue.ID, m *message.Message, entry *dlq.Entry) error {
//	    log.Printf("poison message %s@%d after %d deliveries", q, m.Index, m.DeliveryCount)
//	    return nil
//	}
//
// # Message Hooks
//
//   - [MessagePut] a message was written
//   - [MessageConsumed] a message was delivered to a consumer
//   - [MessageAcked] a delivery was acknowledged
//   - [MessageRequeued] the repair worker brought back an abandoned message
//   - [PoisonMessage] a message exceeded its delivery budget
//
// # Queue Hooks
//
//   - [QueueCreated], [QueueDeleting], [QueueDeleted]
//   - [BucketRetired] the repair worker retired a drained bucket
//
// # Cluster Hooks
//
//   - [LeadershipChanged] this node gained or lost a role
//   - [AllocationChanged] this node started or stopped serving queues
//   - [Shutdown] the node is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
