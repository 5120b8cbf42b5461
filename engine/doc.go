// Package engine wires the cassieq subsystems together over one store and
// exposes the queue API.
//
// The engine sits above every subsystem package: the monotonic counter,
// the bucket pointers, the message service, the reader, the repair
// worker, the lifecycle manager and the cluster layer. Nothing below it
// imports it.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore, cfg,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithLimits(queue.Limit{Account: "acme", Rate: 100, Burst: 200}),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// # Messages
//
//	idx, err := eng.Put(ctx, ref, payload, 0)
//	d, err := eng.Consume(ctx, ref, 30*time.Second)
//	receipt, err := eng.Update(ctx, ref, d.PopReceipt, nil, time.Minute)
//	ok, err := eng.Ack(ctx, ref, receipt)
//
// Consume returns nil when nothing is available. Ack reports false for a
// stale receipt. Update fails with cassieq.ErrStaleReceipt instead.
//
// # Background loops
//
// Start joins the cluster and runs the membership heartbeat, the role
// elections, the allocation refresh that starts and stops per-queue
// repair loops, the deletion sweeper and the definition janitor. A node
// that never calls Start still serves the message API; it just does no
// background work.
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to every background job
//   - [WithLimits] sets per-account or per-queue rate limits
//   - [WithMemberStore], [WithLeaderStore], [WithMembershipView] move the
//     cluster layer to another backend such as Kubernetes
//   - [WithTracerProvider] and [WithMeterProvider] set the OpenTelemetry providers
package engine
