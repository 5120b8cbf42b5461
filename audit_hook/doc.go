// Package audithook is a cassieq extension that turns the administrative
// and failure events of a queue cluster into an audit trail.
//
// Queue creation and deletion, poison messages, requeues, bucket
// retirement, leadership changes and allocation changes each emit one
// structured [AuditEvent] through the [Recorder] interface. Per-message
// traffic (put, consume, ack) is deliberately not audited.
//
// # Usage
//
//	eng, err := engine.New(store, cfg,
//	    engine.WithExtension(audithook.New(
//	        audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return auditLog.Write(ctx, evt)
//	        }),
//	        audithook.WithNode(nodeID),
//	    )),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionQueueDeleting,
//	        audithook.ActionMessagePoisoned,
//	    ),
//	)
package audithook
