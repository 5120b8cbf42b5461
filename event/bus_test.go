package event_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/event"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestKindValid(t *testing.T) {
	for _, k := range event.Kinds {
		if !k.Valid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if event.Kind("queue.renamed").Valid() {
		t.Error("unknown kind reported valid")
	}
}

func TestLocalBus_DeliversToKind(t *testing.T) {
	bus := event.NewLocalBus(8, nil)
	defer bus.Close()

	var added, deleted atomic.Int32
	if _, err := bus.Subscribe(event.KindQueueAdded, func(_ context.Context, evt *event.Event) {
		if evt.Queue == "orders" {
			added.Add(1)
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(event.KindQueueDeleted, func(context.Context, *event.Event) {
		deleted.Add(1)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := event.New(event.KindQueueAdded, "node-a")
	evt.Account, evt.Queue = "acme", "orders"
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return added.Load() == 1 })
	if deleted.Load() != 0 {
		t.Fatalf("deleted handler fired %d times, want 0", deleted.Load())
	}
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	bus := event.NewLocalBus(8, nil)
	defer bus.Close()

	var calls atomic.Int32
	subID, err := bus.Subscribe(event.KindAllocationRefresh, func(context.Context, *event.Event) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(subID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	var marker atomic.Bool
	if _, err := bus.Subscribe(event.KindAllocationRefresh, func(context.Context, *event.Event) {
		marker.Store(true)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = bus.Publish(context.Background(), event.New(event.KindAllocationRefresh, "node-a"))

	waitFor(t, marker.Load)
	if calls.Load() != 0 {
		t.Fatalf("removed handler fired %d times", calls.Load())
	}
}

func TestLocalBus_RejectsUnknownKind(t *testing.T) {
	bus := event.NewLocalBus(1, nil)
	defer bus.Close()

	if _, err := bus.Subscribe("nope", func(context.Context, *event.Event) {}); err == nil {
		t.Fatal("expected error subscribing to unknown kind")
	}
	if err := bus.Publish(context.Background(), &event.Event{Kind: "nope"}); err == nil {
		t.Fatal("expected error publishing unknown kind")
	}
}

func TestHandlers_PanicIsContained(t *testing.T) {
	hs := event.NewHandlers(nil)
	var ran bool
	_, _ = hs.Add(event.KindQueueDeleting, func(context.Context, *event.Event) { panic("boom") })
	_, _ = hs.Add(event.KindQueueDeleting, func(context.Context, *event.Event) { ran = true })

	hs.Dispatch(context.Background(), event.New(event.KindQueueDeleting, "n"))
	if !ran {
		t.Fatal("second handler did not run after first panicked")
	}
	if got := hs.Count(event.KindQueueDeleting); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
}
