package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/repair"
	"github.com/paradoxical-io/cassieq-sub001/scheduler"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"
	"github.com/paradoxical-io/cassieq-sub001/worker"
)

type countingSweeper struct{ n atomic.Int64 }

func (s *countingSweeper) Sweep(context.Context, *queue.Definition) (repair.Result, error) {
	s.n.Add(1)
	return repair.Result{}, nil
}

func newHost(t *testing.T) (*worker.Host, *memory.Store, *countingSweeper) {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	s := memory.New()
	sw := &countingSweeper{}
	return worker.NewHost(s, sw, sched), s, sw
}

func createDef(t *testing.T, s *memory.Store, name string, status queue.Status) *queue.Definition {
	t.Helper()
	def := &queue.Definition{
		Account:          "acme",
		Name:             name,
		Status:           status,
		BucketSize:       10,
		MaxDeliveryCount: 3,
		RepairInterval:   10 * time.Millisecond,
	}
	if err := s.CreateDefinition(context.Background(), def); err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	return def
}

func TestHost_AcquireRunsLoop(t *testing.T) {
	h, s, sw := newHost(t)
	ctx := context.Background()
	def := createDef(t, s, "orders", queue.StatusActive)
	r := def.ID().String()

	if err := h.Acquire(ctx, r); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Acquire(ctx, r); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := h.Active(); len(got) != 1 || got[0] != r {
		t.Fatalf("Active = %v, want [%s]", got, r)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sw.n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d sweeps ran", sw.n.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.Release(ctx, r); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := h.Active(); len(got) != 0 {
		t.Fatalf("Active after release = %v", got)
	}
	stopped := sw.n.Load()
	time.Sleep(50 * time.Millisecond)
	if sw.n.Load() != stopped {
		t.Fatal("sweeps continued after release")
	}
}

func TestHost_SkipsInactiveVersions(t *testing.T) {
	h, s, _ := newHost(t)
	def := createDef(t, s, "orders", queue.StatusDeleting)

	if err := h.Acquire(context.Background(), def.ID().String()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := h.Active(); len(got) != 0 {
		t.Fatalf("Active = %v, want none", got)
	}
}

func TestHost_AcquireErrors(t *testing.T) {
	h, _, _ := newHost(t)
	ctx := context.Background()

	if err := h.Acquire(ctx, "not-an-id"); err == nil {
		t.Fatal("expected a parse error")
	}
	if err := h.Acquire(ctx, "acme/missing/0"); err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestHost_Stop(t *testing.T) {
	h, s, _ := newHost(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		def := createDef(t, s, name, queue.StatusActive)
		if err := h.Acquire(ctx, def.ID().String()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := h.Active(); len(got) != 0 {
		t.Fatalf("Active after stop = %v", got)
	}
	// Releasing an unknown loop is a no-op.
	if err := h.Release(ctx, "acme/a/0"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
