// Package dlq records poison messages: messages the repair worker gave up
// on after their delivery count reached the queue's maximum. Poison
// messages are tombstoned in their queue, so the report is the only place
// their payload survives. Reports can be listed, counted, purged and
// replayed back into a queue.
//
// # Entry
//
// An [Entry] captures:
//   - Account / Queue / Version / Index: where the message lived
//   - Payload: the message body at the time it was given up on
//   - DeliveryCount / MaxDeliveryCount: the exhausted delivery budget
//   - Reason: why the message was reported
//   - FailedAt: when the repair worker tombstoned it
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
//	svc := dlq.NewService(store, publisher)
//
//	// Push is called by the repair worker.
//	svc.Push(ctx, def, msg, "max delivery count reached")
//
//	// Replay puts the payload back into the queue as a fresh message.
//	svc.Replay(ctx, entryID)
package dlq
