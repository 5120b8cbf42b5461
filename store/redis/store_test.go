package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/store"
	redisstore "github.com/paradoxical-io/cassieq-sub001/store/redis"
	"github.com/paradoxical-io/cassieq-sub001/store/storetest"
)

var (
	_ store.Store       = (*redisstore.Store)(nil)
	_ store.BusProvider = (*redisstore.Store)(nil)
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client), mr
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newStore(t)
		return s
	})
}

func TestRoleLockExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	if ok, err := s.LockRole(ctx, "janitor", "a", time.Second); err != nil || !ok {
		t.Fatalf("LockRole(a) = %v, %v", ok, err)
	}
	if ok, _ := s.LockRole(ctx, "janitor", "b", time.Second); ok {
		t.Fatal("LockRole(b) took an unexpired lock")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := s.LockRole(ctx, "janitor", "b", time.Second); !ok {
		t.Fatal("LockRole(b) could not take an expired lock")
	}
}

func TestPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	a := redisstore.New(client, redisstore.WithPrefix("a:"))
	b := redisstore.New(client, redisstore.WithPrefix("b:"))
	q := queue.ID{Account: "acme", Name: "orders"}

	if _, ok, err := a.IncrementCounter(ctx, q, 0); err != nil || !ok {
		t.Fatalf("IncrementCounter = %v, %v", ok, err)
	}
	if cur, _ := b.ReadCounter(ctx, q); cur != 0 {
		t.Fatalf("counter leaked across prefixes: %d", cur)
	}
	if !mr.Exists("a:counter:acme/orders/0") {
		t.Fatalf("expected prefixed counter key, have %v", mr.Keys())
	}
}

func TestPubSubBus(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	sender, err := s.NewBus(ctx, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer sender.Close()
	receiver, err := s.NewBus(ctx, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer receiver.Close()

	got := make(chan *event.Event, 1)
	if _, err := receiver.Subscribe(event.KindQueueAdded, func(_ context.Context, evt *event.Event) {
		got <- evt
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := event.New(event.KindQueueAdded, "node-a")
	evt.Account, evt.Queue, evt.Version = "acme", "orders", 3
	if err := sender.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-got:
		if e.ID.String() != evt.ID.String() || e.Version != 3 || e.Queue != "orders" {
			t.Fatalf("received %+v, want %+v", e, evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered over Pub/Sub")
	}
}
