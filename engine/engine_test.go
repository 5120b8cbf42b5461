package engine_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"
)

var (
	orders = queue.Ref{Account: "acme", Name: "orders"}
	epoch  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testConfig() cassieq.Config {
	cfg := cassieq.DefaultConfig()
	cfg.NodeName = "test-node"
	cfg.CASRetryWait = time.Millisecond
	cfg.CASRetryMaxWait = 5 * time.Millisecond
	cfg.JanitorSchedule = ""
	return cfg
}

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	return newEngineWithConfig(t, testConfig(), opts...)
}

func newEngineWithConfig(t *testing.T, cfg cassieq.Config, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	eng, err := engine.New(s, cfg, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng, s
}

func mustCreate(t *testing.T, eng *engine.Engine, ref queue.Ref, opts ...queue.Option) *queue.Definition {
	t.Helper()
	def, err := eng.CreateQueue(context.Background(), ref, opts...)
	if err != nil {
		t.Fatalf("CreateQueue %s: %v", ref, err)
	}
	return def
}

func mustPut(t *testing.T, eng *engine.Engine, ref queue.Ref, payload string) uint64 {
	t.Helper()
	idx, err := eng.Put(context.Background(), ref, []byte(payload), 0)
	if err != nil {
		t.Fatalf("Put %s: %v", ref, err)
	}
	return idx
}

func mustConsume(t *testing.T, eng *engine.Engine, ref queue.Ref, visibility time.Duration) *engine.Delivery {
	t.Helper()
	d, err := eng.Consume(context.Background(), ref, visibility)
	if err != nil {
		t.Fatalf("Consume %s: %v", ref, err)
	}
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_RequiresStore(t *testing.T) {
	if _, err := engine.New(nil, testConfig()); !errors.Is(err, cassieq.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultBucketSize = 0
	cfg.Allocation = cassieq.AllocateManual
	if _, err := engine.New(memory.New(), cfg); !errors.Is(err, cassieq.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

// ──────────────────────────────────────────────────
// Message API
// ──────────────────────────────────────────────────

func TestPutConsumeAck(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	mustCreate(t, eng, orders)

	idx := mustPut(t, eng, orders, "hello")
	if idx != 0 {
		t.Fatalf("first index = %d, want 0", idx)
	}

	d := mustConsume(t, eng, orders, 30*time.Second)
	if d == nil {
		t.Fatal("expected a delivery")
	}
	if string(d.Payload) != "hello" || d.Index != idx || d.DeliveryCount != 1 || d.Tag == "" {
		t.Fatalf("delivery = %+v", d)
	}

	// Consuming bumps the version the receipt carries.
	if _, version, err := message.DecodeReceipt(d.PopReceipt); err != nil || version != 1 {
		t.Fatalf("receipt version = %d, %v; want 1", version, err)
	}

	ok, err := eng.Ack(ctx, orders, d.PopReceipt)
	if err != nil || !ok {
		t.Fatalf("first ack = %v, %v; want true", ok, err)
	}
	ok, err = eng.Ack(ctx, orders, d.PopReceipt)
	if err != nil || ok {
		t.Fatalf("second ack = %v, %v; want false", ok, err)
	}

	if again := mustConsume(t, eng, orders, time.Second); again != nil {
		t.Fatalf("acked message delivered again: %+v", again)
	}
}

func TestConsume_EmptyQueue(t *testing.T) {
	eng, _ := newEngine(t)
	mustCreate(t, eng, orders)

	if d := mustConsume(t, eng, orders, time.Second); d != nil {
		t.Fatalf("delivery from empty queue: %+v", d)
	}
}

func TestConsume_UnknownQueue(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.Consume(context.Background(), orders, time.Second)
	if !errors.Is(err, cassieq.ErrQueueNotFound) {
		t.Fatalf("err = %v, want ErrQueueNotFound", err)
	}
}

func TestConsume_WalksSealedBuckets(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()
	def := mustCreate(t, eng, orders, queue.WithBucketSize(2))

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		mustPut(t, eng, orders, p)
	}

	var got []string
	for {
		d := mustConsume(t, eng, orders, time.Minute)
		if d == nil {
			break
		}
		got = append(got, string(d.Payload))
	}
	if want := []string{"a", "b", "c", "d", "e"}; !slices.Equal(got, want) {
		t.Fatalf("consumed %v, want %v", got, want)
	}

	reader, err := s.GetBucketPointer(ctx, def.ID(), pointer.Reader)
	if err != nil {
		t.Fatalf("GetBucketPointer: %v", err)
	}
	if reader != 2 {
		t.Fatalf("reader pointer = %d, want 2", reader)
	}
}

func TestAck_InvalidReceipt(t *testing.T) {
	eng, _ := newEngine(t)
	mustCreate(t, eng, orders)

	_, err := eng.Ack(context.Background(), orders, message.PopReceipt("!!not-a-receipt"))
	if !errors.Is(err, cassieq.ErrInvalidReceipt) {
		t.Fatalf("err = %v, want ErrInvalidReceipt", err)
	}
}

func TestUpdate(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	mustCreate(t, eng, orders)
	mustPut(t, eng, orders, "v1")

	d := mustConsume(t, eng, orders, time.Second)
	body := []byte("v2")
	receipt, err := eng.Update(ctx, orders, d.PopReceipt, &body, time.Minute)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if receipt == d.PopReceipt {
		t.Fatal("update should issue a new receipt")
	}

	// The old receipt is stale now.
	if _, err := eng.Update(ctx, orders, d.PopReceipt, nil, time.Minute); !errors.Is(err, cassieq.ErrStaleReceipt) {
		t.Fatalf("stale update err = %v, want ErrStaleReceipt", err)
	}
	if ok, _ := eng.Ack(ctx, orders, d.PopReceipt); ok {
		t.Fatal("ack with stale receipt should fail")
	}

	ok, err := eng.Ack(ctx, orders, receipt)
	if err != nil || !ok {
		t.Fatalf("ack with new receipt = %v, %v", ok, err)
	}
}

func TestUpdateByTag(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	mustCreate(t, eng, orders)
	mustPut(t, eng, orders, "draft")

	d := mustConsume(t, eng, orders, time.Minute)
	newTag, err := eng.UpdateByTag(ctx, orders, d.Index, d.Tag, []byte("final"))
	if err != nil {
		t.Fatalf("UpdateByTag: %v", err)
	}
	if newTag == d.Tag {
		t.Fatal("tag should change on update")
	}
	if _, err := eng.UpdateByTag(ctx, orders, d.Index, d.Tag, []byte("late")); !errors.Is(err, cassieq.ErrStaleReceipt) {
		t.Fatalf("stale tag err = %v, want ErrStaleReceipt", err)
	}

	// The pop receipt is unaffected by a tag update.
	if ok, err := eng.Ack(ctx, orders, d.PopReceipt); err != nil || !ok {
		t.Fatalf("ack after tag update = %v, %v", ok, err)
	}
}

func TestPut_Throttled(t *testing.T) {
	eng, _ := newEngine(t, engine.WithLimits(queue.Limit{Account: "acme", Rate: 1, Burst: 1}))
	ctx := context.Background()
	mustCreate(t, eng, orders)

	if _, err := eng.Put(ctx, orders, []byte("a"), 0); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := eng.Put(ctx, orders, []byte("b"), 0); !errors.Is(err, cassieq.ErrThrottled) {
		t.Fatalf("second put err = %v, want ErrThrottled", err)
	}

	// Other accounts are not affected.
	other := queue.Ref{Account: "globex", Name: "orders"}
	mustCreate(t, eng, other)
	mustPut(t, eng, other, "c")
}

// ──────────────────────────────────────────────────
// Queue lifecycle
// ──────────────────────────────────────────────────

func TestCreateQueue_Exists(t *testing.T) {
	eng, _ := newEngine(t)
	mustCreate(t, eng, orders)

	if _, err := eng.CreateQueue(context.Background(), orders); !errors.Is(err, cassieq.ErrQueueExists) {
		t.Fatalf("err = %v, want ErrQueueExists", err)
	}
}

func TestDeleteQueue_Twice(t *testing.T) {
	cfg := testConfig()
	cfg.DeletionDelay = time.Hour
	eng, _ := newEngineWithConfig(t, cfg)
	ctx := context.Background()
	mustCreate(t, eng, orders)

	if _, err := eng.DeleteQueue(ctx, orders); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if _, err := eng.DeleteQueue(ctx, orders); !errors.Is(err, cassieq.ErrAlreadyDeleting) {
		t.Fatalf("second delete err = %v, want ErrAlreadyDeleting", err)
	}
	if _, err := eng.DeleteQueue(ctx, queue.Ref{Account: "acme", Name: "missing"}); !errors.Is(err, cassieq.ErrQueueNotFound) {
		t.Fatalf("unknown delete err = %v, want ErrQueueNotFound", err)
	}
}

func TestQueueSize(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	if _, ok, err := eng.QueueSize(ctx, orders); err != nil || ok {
		t.Fatalf("size of unknown queue = ok %v, err %v; want unknown", ok, err)
	}

	mustCreate(t, eng, orders, queue.WithBucketSize(2))
	for _, p := range []string{"a", "b", "c"} {
		mustPut(t, eng, orders, p)
	}
	d := mustConsume(t, eng, orders, time.Minute)
	if ok, _ := eng.Ack(ctx, orders, d.PopReceipt); !ok {
		t.Fatal("ack failed")
	}

	size, ok, err := eng.QueueSize(ctx, orders)
	if err != nil || !ok || size != 2 {
		t.Fatalf("QueueSize = %d, %v, %v; want 2", size, ok, err)
	}
}

// A deletion job that runs after the queue name was recreated erases only
// the rows of the version it was handed.
func TestDeleteWhileRecreate(t *testing.T) {
	cfg := testConfig()
	cfg.DeletionDelay = 100 * time.Millisecond
	eng, s := newEngineWithConfig(t, cfg)
	ctx := context.Background()

	v0 := mustCreate(t, eng, orders, queue.WithBucketSize(1))
	mustPut(t, eng, orders, "old-1")
	mustPut(t, eng, orders, "old-2")
	mustConsume(t, eng, orders, time.Minute)
	mustConsume(t, eng, orders, time.Minute)
	if r, _ := s.GetBucketPointer(ctx, v0.ID(), pointer.Reader); r == 0 {
		t.Fatal("reader pointer of version 0 should have moved before deletion")
	}

	if _, err := eng.DeleteQueue(ctx, orders); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	v1 := mustCreate(t, eng, orders, queue.WithBucketSize(1))
	if v1.Version != 1 {
		t.Fatalf("recreated version = %d, want 1", v1.Version)
	}
	mustPut(t, eng, orders, "new")

	waitFor(t, "version 0 deletion", func() bool {
		def, err := s.GetDefinition(ctx, v0.ID())
		return err == nil && def.Status == queue.StatusDeleted
	})

	def1, err := s.GetDefinition(ctx, v1.ID())
	if err != nil || def1.Status != queue.StatusActive {
		t.Fatalf("version 1 = %+v, %v; want active", def1, err)
	}
	if size, ok, err := eng.VersionSize(ctx, v1.ID()); err != nil || !ok || size != 1 {
		t.Fatalf("version 1 size = %d, %v, %v; want 1", size, ok, err)
	}

	if n, _ := s.ReadCounter(ctx, v0.ID()); n != 0 {
		t.Errorf("version 0 counter = %d, want 0", n)
	}
	if r, _ := s.GetBucketPointer(ctx, v0.ID(), pointer.Reader); r != 0 {
		t.Errorf("version 0 reader pointer = %d, want 0", r)
	}
	if w, _ := s.GetInvisibilityPointer(ctx, v0.ID()); w != 0 {
		t.Errorf("version 0 invisibility pointer = %d, want 0", w)
	}
	if _, ok, err := eng.VersionSize(ctx, v0.ID()); err != nil || ok {
		t.Errorf("version 0 size known = %v, %v; want unknown", ok, err)
	}
	if rows, _ := s.GetBucketContents(ctx, v0.ID(), message.Bucket{Number: 0, Size: 1}); len(rows) != 0 {
		t.Errorf("version 0 still has %d rows", len(rows))
	}

	d := mustConsume(t, eng, orders, time.Minute)
	if d == nil || string(d.Payload) != "new" {
		t.Fatalf("version 1 delivery = %+v, want payload new", d)
	}
}

// ──────────────────────────────────────────────────
// Repair
// ──────────────────────────────────────────────────

func TestRepairRequeuesAbandoned(t *testing.T) {
	clk := clock.NewManual(epoch)
	eng, _ := newEngine(t, engine.WithClock(clk))
	ctx := context.Background()
	mustCreate(t, eng, orders)
	mustPut(t, eng, orders, "work")

	first := mustConsume(t, eng, orders, 10*time.Second)
	if first == nil {
		t.Fatal("expected a delivery")
	}
	if d := mustConsume(t, eng, orders, 10*time.Second); d != nil {
		t.Fatalf("in-flight message delivered twice: %+v", d)
	}

	// A sweep before the deadline leaves the delivery alone.
	res, err := eng.RepairQueue(ctx, orders)
	if err != nil || res.Requeued != 0 {
		t.Fatalf("early sweep = %+v, %v; want nothing requeued", res, err)
	}

	clk.Advance(11 * time.Second)
	if d := mustConsume(t, eng, orders, 10*time.Second); d != nil {
		t.Fatalf("abandoned message visible before repair: %+v", d)
	}

	res, err = eng.RepairQueue(ctx, orders)
	if err != nil || res.Requeued != 1 {
		t.Fatalf("sweep = %+v, %v; want one requeue", res, err)
	}

	second := mustConsume(t, eng, orders, 10*time.Second)
	if second == nil {
		t.Fatal("requeued message not delivered")
	}
	if string(second.Payload) != "work" {
		t.Fatalf("payload = %q, want work", second.Payload)
	}
	if second.DeliveryCount != first.DeliveryCount+1 {
		t.Fatalf("delivery count = %d, want %d", second.DeliveryCount, first.DeliveryCount+1)
	}

	// The abandoned delivery can no longer be acked.
	if ok, _ := eng.Ack(ctx, orders, first.PopReceipt); ok {
		t.Fatal("ack of the abandoned delivery should fail")
	}
	if ok, err := eng.Ack(ctx, orders, second.PopReceipt); err != nil || !ok {
		t.Fatalf("ack of the new delivery = %v, %v", ok, err)
	}
}

func TestRepairPoisonToDLQAndReplay(t *testing.T) {
	clk := clock.NewManual(epoch)
	eng, _ := newEngine(t, engine.WithClock(clk))
	ctx := context.Background()
	mustCreate(t, eng, orders, queue.WithMaxDeliveryCount(1))
	mustPut(t, eng, orders, "poison")

	if d := mustConsume(t, eng, orders, 5*time.Second); d == nil {
		t.Fatal("expected a delivery")
	}
	clk.Advance(6 * time.Second)

	res, err := eng.RepairQueue(ctx, orders)
	if err != nil || res.Poisoned != 1 || res.Requeued != 0 {
		t.Fatalf("sweep = %+v, %v; want one poisoned", res, err)
	}
	if d := mustConsume(t, eng, orders, time.Second); d != nil {
		t.Fatalf("poison message delivered again: %+v", d)
	}

	entries, err := eng.ListDLQ(ctx, dlq.ListOpts{Account: "acme"})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %d entries, %v; want 1", len(entries), err)
	}
	if e := entries[0]; e.Queue != "orders" || e.DeliveryCount != 1 || string(e.Payload) != "poison" {
		t.Fatalf("entry = %+v", e)
	}

	if _, err := eng.ReplayDLQ(ctx, entries[0].ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	d := mustConsume(t, eng, orders, time.Second)
	if d == nil || string(d.Payload) != "poison" || d.DeliveryCount != 1 {
		t.Fatalf("replayed delivery = %+v", d)
	}
}

func TestRepairForwardsToDeadLetterQueue(t *testing.T) {
	clk := clock.NewManual(epoch)
	eng, _ := newEngine(t, engine.WithClock(clk))
	ctx := context.Background()
	dead := queue.Ref{Account: "acme", Name: "orders-dead"}
	mustCreate(t, eng, dead)
	mustCreate(t, eng, orders, queue.WithMaxDeliveryCount(1), queue.WithDeadLetterQueue(dead.Name))
	mustPut(t, eng, orders, "bad")

	mustConsume(t, eng, orders, time.Second)
	clk.Advance(2 * time.Second)
	if _, err := eng.RepairQueue(ctx, orders); err != nil {
		t.Fatalf("RepairQueue: %v", err)
	}

	d := mustConsume(t, eng, dead, time.Second)
	if d == nil || string(d.Payload) != "bad" {
		t.Fatalf("dead letter delivery = %+v", d)
	}
}

// ──────────────────────────────────────────────────
// Extensions and metrics
// ──────────────────────────────────────────────────

type recordingExt struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingExt) Name() string { return "recording" }

func (r *recordingExt) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recordingExt) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *recordingExt) OnQueueCreated(context.Context, *queue.Definition) error {
	r.record("created")
	return nil
}

func (r *recordingExt) OnMessagePut(context.Context, queue.ID, *message.Message) error {
	r.record("put")
	return nil
}

func (r *recordingExt) OnMessageConsumed(context.Context, queue.ID, *message.Message) error {
	r.record("consumed")
	return nil
}

func (r *recordingExt) OnMessageAcked(context.Context, queue.ID, uint64) error {
	r.record("acked")
	return nil
}

func (r *recordingExt) OnLeadershipChanged(_ context.Context, role cluster.Role, leader bool) error {
	if leader {
		r.record("leader:" + string(role))
	}
	return nil
}

func TestExtensionHooks(t *testing.T) {
	rec := &recordingExt{}
	eng, _ := newEngine(t, engine.WithExtension(rec))
	ctx := context.Background()

	mustCreate(t, eng, orders)
	mustPut(t, eng, orders, "x")
	d := mustConsume(t, eng, orders, time.Second)
	if _, err := eng.Ack(ctx, orders, d.PopReceipt); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	want := []string{"created", "put", "consumed", "acked"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("hooks = %v, want %v", got, want)
	}
}

func TestMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	eng, _ := newEngine(t, engine.WithMeterProvider(mp))

	mustCreate(t, eng, orders)
	mustPut(t, eng, orders, "x")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cassieq.message.put" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
				t.Fatalf("cassieq.message.put = %+v", sum.DataPoints)
			}
			return
		}
	}
	t.Fatal("cassieq.message.put metric not found")
}

// ──────────────────────────────────────────────────
// Background loops
// ──────────────────────────────────────────────────

func TestStart_AfterStop(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Start(ctx); !errors.Is(err, cassieq.ErrEngineStopped) {
		t.Fatalf("Start after Stop = %v, want ErrEngineStopped", err)
	}
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.MemberTTL = time.Second
	cfg.ElectionInterval = 20 * time.Millisecond
	cfg.LockTTL = time.Second
	cfg.LockWait = 100 * time.Millisecond
	cfg.AllocationInterval = 50 * time.Millisecond
	cfg.DeletionSweepInterval = 50 * time.Millisecond
	cfg.DeletionDelay = time.Hour
	cfg.RepairJitter = 0

	rec := &recordingExt{}
	eng, s := newEngineWithConfig(t, cfg, engine.WithExtension(rec))
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	def := mustCreate(t, eng, orders)

	waitFor(t, "queue allocated", func() bool {
		return slices.Contains(eng.Allocation().Running(), def.ID().String())
	})
	waitFor(t, "both roles claimed", func() bool {
		return eng.Elector().IsLeader(cluster.RoleDeletionSweeper) &&
			eng.Elector().IsLeader(cluster.RoleDefinitionJanitor)
	})

	// The deletion sweeper resumes a deletion whose job never ran.
	if _, err := eng.DeleteQueue(ctx, orders); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	waitFor(t, "sweeper finishes deletion", func() bool {
		d, err := s.GetDefinition(ctx, def.ID())
		return err == nil && d.Status == queue.StatusDeleted
	})
	waitFor(t, "deleted queue released", func() bool {
		return !slices.Contains(eng.Allocation().Running(), def.ID().String())
	})

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	members, err := s.ListMembers(ctx)
	if err != nil || len(members) != 0 {
		t.Fatalf("members after stop = %d, %v; want 0", len(members), err)
	}
	if owner, _ := s.GetRoleOwner(ctx, cluster.RoleDeletionSweeper); owner != "" {
		t.Fatalf("role owner after stop = %q, want empty", owner)
	}
	if !slices.Contains(rec.snapshot(), "leader:"+string(cluster.RoleDeletionSweeper)) {
		t.Fatalf("leadership hook not called: %v", rec.snapshot())
	}
}
