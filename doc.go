// Package cassieq provides a durable, at-least-once message queue for Go,
// multiplexed over many tenant accounts and queues and scaled horizontally
// across nodes that share one store.
//
// cassieq is designed as a library. Construct an engine with a store and a
// Config, create queues, then put, consume and acknowledge messages:
//
//	eng, err := engine.New(memory.New(), cassieq.DefaultConfig())
//	ref := queue.Ref{Account: "acme", Name: "orders"}
//	_, err = eng.CreateQueue(ctx, ref)
//	idx, err := eng.Put(ctx, ref, payload, 0)
//	d, err := eng.Consume(ctx, ref, 30*time.Second)
//	ok, err := eng.Ack(ctx, ref, d.PopReceipt)
//
// # Storage model
//
// Every queue version owns a monotonic counter that hands out message
// indices. Indices are grouped into fixed-size buckets. Three cursors move
// over the buckets: the reader pointer (where consumers look for new
// messages), the repair pointer (where the repair worker looks for
// abandoned deliveries) and the invisibility watermark (the lowest index
// that may still be in flight).
//
// All shared state is mutated through conditional writes only. There is no
// lock guarding a queue as a whole, so several nodes may run the same
// background worker and the losers of each race simply observe the winner.
//
// # Versions
//
// Deleting a queue marks its current version as deleting and erases that
// version's rows asynchronously. A queue recreated under the same name gets
// a new version, and since every row key carries the version a late
// deletion job can never touch the new queue.
package cassieq
