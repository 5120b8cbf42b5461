package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	ah "github.com/paradoxical-io/cassieq-sub001/audit_hook"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/ext"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, evt := range m.events {
		out = append(out, evt.Action)
	}
	return out
}

// ── Test helpers ─────────────────────────────────────

func newTestDef() *queue.Definition {
	return &queue.Definition{
		Account:          "acme",
		Name:             "orders",
		Version:          2,
		Status:           queue.StatusActive,
		BucketSize:       20,
		MaxDeliveryCount: 5,
	}
}

func newTestMessage() *message.Message {
	return &message.Message{Index: 41, Version: 3, DeliveryCount: 5, Payload: []byte("x")}
}

// ── Hook tests ───────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	if got := ah.New(&mockRecorder{}).Name(); got != "audit-hook" {
		t.Fatalf("Name = %q, want audit-hook", got)
	}
}

func TestExtension_QueueHooks(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithNode("node-a"))
	ctx := context.Background()
	def := newTestDef()

	if err := e.OnQueueCreated(ctx, def); err != nil {
		t.Fatalf("OnQueueCreated: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionQueueCreated || evt.Resource != ah.ResourceQueue || evt.Category != ah.CategoryQueue {
		t.Fatalf("created event = %+v", evt)
	}
	if evt.ResourceID != "acme/orders/2" || evt.Account != "acme" || evt.Node != "node-a" {
		t.Fatalf("created identity = %+v", evt)
	}
	if evt.Metadata["bucket_size"] != 20 || evt.Metadata["version"] != 2 {
		t.Fatalf("created metadata = %v", evt.Metadata)
	}

	if err := e.OnQueueDeleting(ctx, def); err != nil {
		t.Fatalf("OnQueueDeleting: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionQueueDeleting || evt.Severity != ah.SeverityWarning {
		t.Fatalf("deleting event = %+v", evt)
	}

	if err := e.OnQueueDeleted(ctx, def.ID()); err != nil {
		t.Fatalf("OnQueueDeleted: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionQueueDeleted || evt.ResourceID != "acme/orders/2" {
		t.Fatalf("deleted event = %+v", evt)
	}
}

func TestExtension_PoisonMessage(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	def := newTestDef()
	entry := &dlq.Entry{ID: id.NewDLQID(), MaxDeliveryCount: 5, Reason: "max delivery count exceeded"}

	if err := e.OnPoisonMessage(context.Background(), def.ID(), newTestMessage(), entry); err != nil {
		t.Fatalf("OnPoisonMessage: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionMessagePoisoned || evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Fatalf("poison event = %+v", evt)
	}
	if evt.ResourceID != "acme/orders/2@41" || evt.Reason != entry.Reason {
		t.Fatalf("poison identity = %+v", evt)
	}
	if evt.Metadata["dlq_id"] != entry.ID.String() || evt.Metadata["delivery_count"] != 5 {
		t.Fatalf("poison metadata = %v", evt.Metadata)
	}

	// No DLQ configured: still audited.
	if err := e.OnPoisonMessage(context.Background(), def.ID(), newTestMessage(), nil); err != nil {
		t.Fatalf("OnPoisonMessage without entry: %v", err)
	}
	if evt := rec.last(); evt.Reason != "poison" {
		t.Fatalf("reason without entry = %q", evt.Reason)
	}
}

func TestExtension_RequeueAndRetire(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	q := newTestDef().ID()

	if err := e.OnMessageRequeued(ctx, q, newTestMessage(), 99); err != nil {
		t.Fatalf("OnMessageRequeued: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionMessageRequeued || evt.Metadata["to_index"] != uint64(99) {
		t.Fatalf("requeue event = %+v", evt)
	}

	if err := e.OnBucketRetired(ctx, q, 7); err != nil {
		t.Fatalf("OnBucketRetired: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionBucketRetired || evt.ResourceID != "acme/orders/2#7" {
		t.Fatalf("retire event = %+v", evt)
	}
}

func TestExtension_ClusterHooks(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithNode("node-a"))
	ctx := context.Background()

	_ = e.OnLeadershipChanged(ctx, cluster.RoleDeletionSweeper, true)
	_ = e.OnLeadershipChanged(ctx, cluster.RoleDeletionSweeper, false)
	_ = e.OnAllocationChanged(ctx, []string{"acme/a/0"}, nil)

	want := []string{ah.ActionLeadershipAcquired, ah.ActionLeadershipLost, ah.ActionAllocationChanged}
	if got := rec.actions(); !slices.Equal(got, want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	if evt := rec.last(); evt.ResourceID != "node-a" {
		t.Fatalf("allocation event = %+v", evt)
	}
}

// ── Filtering test ───────────────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionQueueDeleting, ah.ActionMessagePoisoned))
	ctx := context.Background()
	def := newTestDef()

	// Created is NOT enabled.
	if err := e.OnQueueCreated(ctx, def); err != nil {
		t.Fatalf("OnQueueCreated: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (created disabled), got %d", rec.count())
	}

	if err := e.OnQueueDeleting(ctx, def); err != nil {
		t.Fatalf("OnQueueDeleting: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (deleting enabled), got %d", rec.count())
	}
}

func TestExtension_WithoutActions_DropsFromAll(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithoutActions(ah.ActionQueueCreated))
	ctx := context.Background()
	def := newTestDef()

	if err := e.OnQueueCreated(ctx, def); err != nil {
		t.Fatalf("OnQueueCreated: %v", err)
	}
	if err := e.OnQueueDeleting(ctx, def); err != nil {
		t.Fatalf("OnQueueDeleting: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected only the deleting event, got %d", rec.count())
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	if err := ah.New(failing).OnQueueCreated(context.Background(), newTestDef()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	def := newTestDef()
	m := newTestMessage()

	reg.EmitQueueCreated(ctx, def)
	reg.EmitQueueDeleting(ctx, def)
	reg.EmitQueueDeleted(ctx, def.ID())
	reg.EmitMessageRequeued(ctx, def.ID(), m, 50)
	reg.EmitPoisonMessage(ctx, def.ID(), m, nil)
	reg.EmitBucketRetired(ctx, def.ID(), 1)
	reg.EmitLeadershipChanged(ctx, cluster.RoleDefinitionJanitor, true)
	reg.EmitLeadershipChanged(ctx, cluster.RoleDefinitionJanitor, false)
	reg.EmitAllocationChanged(ctx, []string{"acme/orders/2"}, nil)

	// Message traffic is not audited.
	reg.EmitMessagePut(ctx, def.ID(), m)
	reg.EmitMessageAcked(ctx, def.ID(), m.Index)

	all := ah.AllActions()
	if got := rec.actions(); !slices.Equal(got, all) {
		t.Fatalf("actions = %v, want %v", got, all)
	}
}

// ── Engine integration test ──────────────────────────

func TestExtension_ThroughEngine(t *testing.T) {
	rec := &mockRecorder{}
	cfg := cassieq.DefaultConfig()
	cfg.DeletionDelay = time.Hour
	eng, err := engine.New(memory.New(), cfg, engine.WithExtension(ah.New(rec)))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	ctx := context.Background()
	ref := queue.Ref{Account: "acme", Name: "orders"}

	if _, err := eng.CreateQueue(ctx, ref); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if _, err := eng.Put(ctx, ref, []byte("x"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := eng.DeleteQueue(ctx, ref); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}

	want := []string{ah.ActionQueueCreated, ah.ActionQueueDeleting}
	if got := rec.actions(); !slices.Equal(got, want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
}

func TestAllActions(t *testing.T) {
	if n := len(ah.AllActions()); n != 9 {
		t.Errorf("expected 9 actions, got %d", n)
	}
}
