// Package storetest holds the behaviour every store.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises s against the shared store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"DefinitionCreate", testDefinitionCreate},
		{"DefinitionStatus", testDefinitionStatus},
		{"Counter", testCounter},
		{"CounterConcurrent", testCounterConcurrent},
		{"BucketPointer", testBucketPointer},
		{"InvisibilityPointer", testInvisibilityPointer},
		{"MessagePut", testMessagePut},
		{"MessageConsumeAck", testMessageConsumeAck},
		{"MessageUpdate", testMessageUpdate},
		{"BucketLifecycle", testBucketLifecycle},
		{"DLQ", testDLQ},
		{"Members", testMembers},
		{"RoleLocks", testRoleLocks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var (
	testQueue = queue.ID{Account: "acme", Name: "orders", Version: 0}
	epoch     = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newDefinition(version int, status queue.Status) *queue.Definition {
	return &queue.Definition{
		Account:          "acme",
		Name:             "orders",
		Version:          version,
		Status:           status,
		BucketSize:       4,
		MaxDeliveryCount: 3,
		RepairInterval:   time.Second,
		TombstoneGrace:   time.Second,
		CreatedAt:        epoch,
		UpdatedAt:        epoch,
	}
}

func newMessage(index uint64) *message.Message {
	return &message.Message{
		Index:     index,
		Bucket:    index / 4,
		Payload:   []byte("payload"),
		CreatedBy: id.NewMessageID(),
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Queue definitions
// ──────────────────────────────────────────────────

func testDefinitionCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := queue.Ref{Account: "acme", Name: "orders"}

	if _, ok, err := s.LatestVersion(ctx, ref); err != nil || ok {
		t.Fatalf("LatestVersion on unused name = %v, %v", ok, err)
	}
	if err := s.CreateDefinition(ctx, newDefinition(0, queue.StatusActive)); err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}

	err := s.CreateDefinition(ctx, newDefinition(0, queue.StatusActive))
	if !errors.Is(err, cassieq.ErrVersionConflict) {
		t.Fatalf("duplicate version error = %v, want ErrVersionConflict", err)
	}
	err = s.CreateDefinition(ctx, newDefinition(1, queue.StatusActive))
	if !errors.Is(err, cassieq.ErrQueueExists) {
		t.Fatalf("second active version error = %v, want ErrQueueExists", err)
	}

	active, err := s.GetActiveDefinition(ctx, ref)
	if err != nil {
		t.Fatalf("GetActiveDefinition: %v", err)
	}
	if active.Version != 0 || active.BucketSize != 4 {
		t.Fatalf("active = %+v", active)
	}

	if _, err := s.GetDefinition(ctx, queue.ID{Account: "acme", Name: "orders", Version: 7}); !errors.Is(err, cassieq.ErrQueueNotFound) {
		t.Fatalf("GetDefinition missing = %v, want ErrQueueNotFound", err)
	}
}

func testDefinitionStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := queue.Ref{Account: "acme", Name: "orders"}
	d := newDefinition(0, queue.StatusActive)
	if err := s.CreateDefinition(ctx, d); err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}

	ok, err := s.UpdateDefinitionStatus(ctx, d.ID(), queue.StatusActive, queue.StatusDeleting, epoch)
	if err != nil || !ok {
		t.Fatalf("active->deleting = %v, %v", ok, err)
	}
	ok, err = s.UpdateDefinitionStatus(ctx, d.ID(), queue.StatusActive, queue.StatusDeleting, epoch)
	if err != nil || ok {
		t.Fatalf("repeated active->deleting = %v, %v; want lost CAS", ok, err)
	}

	if _, err := s.GetActiveDefinition(ctx, ref); !errors.Is(err, cassieq.ErrQueueNotFound) {
		t.Fatalf("GetActiveDefinition while deleting = %v", err)
	}
	if err := s.CreateDefinition(ctx, newDefinition(1, queue.StatusActive)); err != nil {
		t.Fatalf("create next version while deleting: %v", err)
	}
	latest, ok, err := s.LatestVersion(ctx, ref)
	if err != nil || !ok || latest != 1 {
		t.Fatalf("LatestVersion = %d, %v, %v", latest, ok, err)
	}

	deleting, err := s.ListDefinitions(ctx, queue.StatusDeleting)
	if err != nil || len(deleting) != 1 || deleting[0].Version != 0 {
		t.Fatalf("ListDefinitions(deleting) = %v, %v", deleting, err)
	}
	all, err := s.ListDefinitions(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListDefinitions(all) = %d, %v", len(all), err)
	}

	if removed, _ := s.DeleteDefinition(ctx, d.ID()); removed {
		t.Fatal("DeleteDefinition removed a version that is not deleted")
	}
	if _, err := s.UpdateDefinitionStatus(ctx, d.ID(), queue.StatusDeleting, queue.StatusDeleted, epoch); err != nil {
		t.Fatalf("deleting->deleted: %v", err)
	}
	removed, err := s.DeleteDefinition(ctx, d.ID())
	if err != nil || !removed {
		t.Fatalf("DeleteDefinition = %v, %v", removed, err)
	}
}

// ──────────────────────────────────────────────────
// Counters and pointers
// ──────────────────────────────────────────────────

func testCounter(t *testing.T, s store.Store) {
	ctx := context.Background()

	if cur, err := s.ReadCounter(ctx, testQueue); err != nil || cur != 0 {
		t.Fatalf("ReadCounter fresh = %d, %v", cur, err)
	}
	cur, ok, err := s.IncrementCounter(ctx, testQueue, 0)
	if err != nil || !ok || cur != 1 {
		t.Fatalf("IncrementCounter(0) = %d, %v, %v", cur, ok, err)
	}
	cur, ok, err = s.IncrementCounter(ctx, testQueue, 0)
	if err != nil || ok || cur != 1 {
		t.Fatalf("stale IncrementCounter(0) = %d, %v, %v", cur, ok, err)
	}
	if err := s.DeleteCounter(ctx, testQueue); err != nil {
		t.Fatalf("DeleteCounter: %v", err)
	}
	if cur, _ := s.ReadCounter(ctx, testQueue); cur != 0 {
		t.Fatalf("ReadCounter after delete = %d", cur)
	}
}

func testCounterConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers, perWorker = 8, 20

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWorker; {
				cur, err := s.ReadCounter(ctx, testQueue)
				if err != nil {
					t.Errorf("ReadCounter: %v", err)
					return
				}
				if _, ok, err := s.IncrementCounter(ctx, testQueue, cur); err != nil {
					t.Errorf("IncrementCounter: %v", err)
					return
				} else if !ok {
					continue
				}
				mu.Lock()
				if seen[cur] {
					t.Errorf("index %d handed out twice", cur)
				}
				seen[cur] = true
				mu.Unlock()
				n++
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("distinct indices = %d, want %d", len(seen), workers*perWorker)
	}
}

func testBucketPointer(t *testing.T, s store.Store) {
	ctx := context.Background()

	tests := []struct {
		name     string
		expected uint64
		next     uint64
		want     uint64
	}{
		{"advance from zero", 0, 1, 1},
		{"stale expected", 0, 5, 1},
		{"backwards rejected", 1, 0, 1},
		{"jump", 1, 4, 4},
	}
	for _, tt := range tests {
		got, err := s.AdvanceBucketPointer(ctx, testQueue, pointer.Reader, tt.expected, tt.next)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: pointer = %d, want %d", tt.name, got, tt.want)
		}
	}

	if repair, _ := s.GetBucketPointer(ctx, testQueue, pointer.Repair); repair != 0 {
		t.Fatalf("repair pointer moved with reader: %d", repair)
	}
	if err := s.DeletePointers(ctx, testQueue); err != nil {
		t.Fatalf("DeletePointers: %v", err)
	}
	if reader, _ := s.GetBucketPointer(ctx, testQueue, pointer.Reader); reader != 0 {
		t.Fatalf("reader after delete = %d", reader)
	}
}

func testInvisibilityPointer(t *testing.T, s store.Store) {
	ctx := context.Background()

	got, err := s.MoveInvisibilityPointer(ctx, testQueue, 0, 10)
	if err != nil || got != 10 {
		t.Fatalf("Move(0->10) = %d, %v", got, err)
	}
	got, _ = s.MoveInvisibilityPointer(ctx, testQueue, 0, 20)
	if got != 10 {
		t.Fatalf("stale forward move stored %d, want 10", got)
	}
	got, _ = s.MoveInvisibilityPointer(ctx, testQueue, 99, 3)
	if got != 3 {
		t.Fatalf("stale backward move stored %d, want 3", got)
	}
	if cur, _ := s.GetInvisibilityPointer(ctx, testQueue); cur != 3 {
		t.Fatalf("GetInvisibilityPointer = %d", cur)
	}
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

func testMessagePut(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := newMessage(0)

	if err := s.PutMessage(ctx, testQueue, m); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
	if err := s.PutMessage(ctx, testQueue, m); err != nil {
		t.Fatalf("idempotent PutMessage: %v", err)
	}
	if err := s.PutMessage(ctx, testQueue, newMessage(0)); !errors.Is(err, cassieq.ErrMessageConflict) {
		t.Fatalf("conflicting PutMessage = %v, want ErrMessageConflict", err)
	}

	got, err := s.GetMessage(ctx, testQueue, 0)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if string(got.Payload) != "payload" || got.Version != 0 || got.Tombstoned {
		t.Fatalf("GetMessage = %+v", got)
	}
	if _, err := s.GetMessage(ctx, testQueue, 9); !errors.Is(err, cassieq.ErrMessageNotFound) {
		t.Fatalf("GetMessage missing = %v", err)
	}
}

func testMessageConsumeAck(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.PutMessage(ctx, testQueue, newMessage(1)); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}

	until := epoch.Add(30 * time.Second)
	got, err := s.ConsumeMessage(ctx, testQueue, 1, 0, epoch, until, "t1")
	if err != nil || got == nil {
		t.Fatalf("ConsumeMessage = %v, %v", got, err)
	}
	if got.Version != 1 || got.DeliveryCount != 1 || got.Tag != "t1" {
		t.Fatalf("consumed row = %+v", got)
	}
	if got.InvisibleUntil == nil || !got.InvisibleUntil.Equal(until) {
		t.Fatalf("invisible until = %v, want %v", got.InvisibleUntil, until)
	}

	again, err := s.ConsumeMessage(ctx, testQueue, 1, 0, epoch, until, "t2")
	if err != nil || again != nil {
		t.Fatalf("stale consume = %v, %v; want nil, nil", again, err)
	}
	hidden, err := s.ConsumeMessage(ctx, testQueue, 1, 1, epoch, until, "t2")
	if err != nil || hidden != nil {
		t.Fatalf("consume while invisible = %v, %v", hidden, err)
	}
	if missing, err := s.ConsumeMessage(ctx, testQueue, 42, 0, epoch, until, "t2"); err != nil || missing != nil {
		t.Fatalf("consume missing = %v, %v", missing, err)
	}

	if ok, err := s.AckMessage(ctx, testQueue, 1, 0, epoch); err != nil || ok {
		t.Fatalf("ack with old version = %v, %v", ok, err)
	}
	if ok, err := s.AckMessage(ctx, testQueue, 1, 1, epoch); err != nil || !ok {
		t.Fatalf("ack = %v, %v", ok, err)
	}
	if ok, err := s.AckMessage(ctx, testQueue, 1, 1, epoch); err != nil || ok {
		t.Fatalf("second ack = %v, %v", ok, err)
	}
	if _, err := s.AckMessage(ctx, testQueue, 42, 0, epoch); !errors.Is(err, cassieq.ErrMessageNotFound) {
		t.Fatalf("ack missing = %v", err)
	}

	row, _ := s.GetMessage(ctx, testQueue, 1)
	if !row.Tombstoned {
		t.Fatal("acked row not tombstoned")
	}
}

func testMessageUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.PutMessage(ctx, testQueue, newMessage(2)); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
	consumed, err := s.ConsumeMessage(ctx, testQueue, 2, 0, epoch, epoch.Add(time.Minute), "t1")
	if err != nil || consumed == nil {
		t.Fatalf("ConsumeMessage = %v, %v", consumed, err)
	}

	updated, err := s.UpdateMessageVisibility(ctx, testQueue, 2, 1, epoch.Add(time.Hour), []byte("new"), "t2", epoch)
	if err != nil || updated == nil {
		t.Fatalf("UpdateMessageVisibility = %v, %v", updated, err)
	}
	if updated.Version != 2 || string(updated.Payload) != "new" || updated.Tag != "t2" {
		t.Fatalf("updated row = %+v", updated)
	}
	if updated.DeliveryCount != 1 {
		t.Fatalf("update changed delivery count to %d", updated.DeliveryCount)
	}

	stale, err := s.UpdateMessageVisibility(ctx, testQueue, 2, 1, epoch, nil, "t3", epoch)
	if err != nil || stale != nil {
		t.Fatalf("stale update = %v, %v", stale, err)
	}

	byTag, err := s.UpdateMessageByTag(ctx, testQueue, 2, "t2", []byte("tagged"), "t3", epoch)
	if err != nil || byTag == nil {
		t.Fatalf("UpdateMessageByTag = %v, %v", byTag, err)
	}
	if byTag.Version != 2 || string(byTag.Payload) != "tagged" {
		t.Fatalf("tag update row = %+v", byTag)
	}
	if wrong, err := s.UpdateMessageByTag(ctx, testQueue, 2, "t2", []byte("x"), "t4", epoch); err != nil || wrong != nil {
		t.Fatalf("stale tag update = %v, %v", wrong, err)
	}
	if _, err := s.UpdateMessageVisibility(ctx, testQueue, 42, 0, epoch, nil, "t", epoch); !errors.Is(err, cassieq.ErrMessageNotFound) {
		t.Fatalf("update missing = %v", err)
	}
}

func testBucketLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := message.Bucket{Number: 1, Size: 4}

	for _, idx := range []uint64{6, 4, 5, 8} {
		if err := s.PutMessage(ctx, testQueue, newMessage(idx)); err != nil {
			t.Fatalf("PutMessage(%d): %v", idx, err)
		}
	}
	rows, err := s.GetBucketContents(ctx, testQueue, b)
	if err != nil {
		t.Fatalf("GetBucketContents: %v", err)
	}
	if len(rows) != 3 || rows[0].Index != 4 || rows[2].Index != 6 {
		t.Fatalf("bucket rows = %v", rows)
	}

	if at, err := s.BucketTombstone(ctx, testQueue, 1); err != nil || at != nil {
		t.Fatalf("BucketTombstone before marking = %v, %v", at, err)
	}
	if err := s.TombstoneBucket(ctx, testQueue, 1, epoch.Add(time.Minute)); err != nil {
		t.Fatalf("TombstoneBucket: %v", err)
	}
	if err := s.TombstoneBucket(ctx, testQueue, 1, epoch.Add(time.Hour)); err != nil {
		t.Fatalf("TombstoneBucket later: %v", err)
	}
	at, err := s.BucketTombstone(ctx, testQueue, 1)
	if err != nil || at == nil || !at.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("BucketTombstone = %v, %v; want earliest mark", at, err)
	}

	if err := s.DeleteBucket(ctx, testQueue, b); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if rows, _ := s.GetBucketContents(ctx, testQueue, b); len(rows) != 0 {
		t.Fatalf("rows after delete = %d", len(rows))
	}
	if at, _ := s.BucketTombstone(ctx, testQueue, 1); at != nil {
		t.Fatal("marker survived DeleteBucket")
	}
	if _, err := s.GetMessage(ctx, testQueue, 8); err != nil {
		t.Fatalf("neighbouring bucket row lost: %v", err)
	}
}

// ──────────────────────────────────────────────────
// DLQ
// ──────────────────────────────────────────────────

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, name := range []string{"orders", "orders", "billing"} {
		e := &dlq.Entry{
			ID:               id.NewDLQID(),
			Account:          "acme",
			Queue:            name,
			Index:            uint64(i),
			Payload:          []byte("p"),
			DeliveryCount:    3,
			MaxDeliveryCount: 3,
			Reason:           "max deliveries",
			FailedAt:         epoch.Add(time.Duration(i) * time.Hour),
			CreatedAt:        epoch,
		}
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	orders, err := s.ListDLQ(ctx, dlq.ListOpts{Account: "acme", Queue: "orders"})
	if err != nil || len(orders) != 2 {
		t.Fatalf("ListDLQ(orders) = %d, %v", len(orders), err)
	}
	if orders[0].Index != 0 {
		t.Fatalf("ListDLQ order: first index = %d", orders[0].Index)
	}
	page, _ := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Index != 1 {
		t.Fatalf("ListDLQ page = %v", page)
	}

	if err := s.ReplayDLQ(ctx, orders[0].ID, epoch); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err := s.GetDLQ(ctx, orders[0].ID)
	if err != nil || got.ReplayedAt == nil {
		t.Fatalf("GetDLQ after replay = %+v, %v", got, err)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, cassieq.ErrDLQNotFound) {
		t.Fatalf("GetDLQ missing = %v", err)
	}

	purged, err := s.PurgeDLQ(ctx, epoch.Add(90*time.Minute))
	if err != nil || purged != 2 {
		t.Fatalf("PurgeDLQ = %d, %v", purged, err)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Fatalf("CountDLQ = %d", n)
	}
}

// ──────────────────────────────────────────────────
// Cluster
// ──────────────────────────────────────────────────

func testMembers(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := &cluster.Member{ID: id.NewNodeID(), Hostname: "a", State: cluster.MemberActive, LastSeen: epoch, CreatedAt: epoch}
	b := &cluster.Member{ID: id.NewNodeID(), Hostname: "b", State: cluster.MemberActive, LastSeen: epoch, CreatedAt: epoch.Add(time.Second)}

	for _, m := range []*cluster.Member{b, a} {
		if err := s.RegisterMember(ctx, m); err != nil {
			t.Fatalf("RegisterMember: %v", err)
		}
	}
	members, err := s.ListMembers(ctx)
	if err != nil || len(members) != 2 || members[0].Hostname != "a" {
		t.Fatalf("ListMembers = %v, %v", members, err)
	}

	if err := s.HeartbeatMember(ctx, b.ID, epoch.Add(time.Minute)); err != nil {
		t.Fatalf("HeartbeatMember: %v", err)
	}
	if err := s.HeartbeatMember(ctx, id.NewNodeID(), epoch); !errors.Is(err, cassieq.ErrMemberNotFound) {
		t.Fatalf("HeartbeatMember unknown = %v", err)
	}

	dead, err := s.ReapDeadMembers(ctx, epoch.Add(30*time.Second))
	if err != nil || len(dead) != 1 || dead[0].Hostname != "a" {
		t.Fatalf("ReapDeadMembers = %v, %v", dead, err)
	}
	if err := s.DeregisterMember(ctx, b.ID); err != nil {
		t.Fatalf("DeregisterMember: %v", err)
	}
	if members, _ := s.ListMembers(ctx); len(members) != 0 {
		t.Fatalf("members left = %d", len(members))
	}
}

func testRoleLocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	role := cluster.RoleDeletionSweeper

	ok, err := s.LockRole(ctx, role, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("LockRole(a) = %v, %v", ok, err)
	}
	if ok, _ := s.LockRole(ctx, role, "b", time.Minute); ok {
		t.Fatal("LockRole(b) took a held lock")
	}
	if ok, _ := s.LockRole(ctx, role, "a", time.Minute); !ok {
		t.Fatal("LockRole(a) could not re-enter its own lock")
	}

	if err := s.SetRoleOwner(ctx, role, "a"); err != nil {
		t.Fatalf("SetRoleOwner: %v", err)
	}
	if owner, _ := s.GetRoleOwner(ctx, role); owner != "a" {
		t.Fatalf("GetRoleOwner = %q", owner)
	}

	if err := s.UnlockRole(ctx, role, "b"); err != nil {
		t.Fatalf("UnlockRole(b): %v", err)
	}
	if ok, _ := s.LockRole(ctx, role, "b", time.Minute); ok {
		t.Fatal("UnlockRole by a non-holder freed the lock")
	}
	if err := s.UnlockRole(ctx, role, "a"); err != nil {
		t.Fatalf("UnlockRole(a): %v", err)
	}
	if ok, _ := s.LockRole(ctx, role, "b", time.Minute); !ok {
		t.Fatal("LockRole(b) after unlock failed")
	}

	if err := s.SetRoleOwner(ctx, role, ""); err != nil {
		t.Fatalf("clear owner: %v", err)
	}
	if owner, _ := s.GetRoleOwner(ctx, role); owner != "" {
		t.Fatalf("owner after clear = %q", owner)
	}
}
