// Package event provides the cluster-wide notification bus used to tell
// other nodes about queue lifecycle changes.
//
// The set of event kinds is closed: handlers subscribe to a [Kind] and
// receive [Event] values, with no runtime type discovery. Delivery is best
// effort, at most once and unordered. Nothing in the engine depends on an
// event arriving; events only make nodes react sooner than their next
// periodic tick would.
//
// [LocalBus] delivers within one process. The Redis and Postgres stores
// provide buses that fan out across the cluster.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Kind is the closed enumeration of event kinds.
type Kind string

const (
	// KindQueueAdded is published after a queue version is created.
	KindQueueAdded Kind = "queue.added"
	// KindQueueDeleting is published after a version is marked deleting.
	KindQueueDeleting Kind = "queue.deleting"
	// KindQueueDeleted is published after a deletion job finishes.
	KindQueueDeleted Kind = "queue.deleted"
	// KindAllocationRefresh asks every node to recompute its allocation.
	KindAllocationRefresh Kind = "allocation.refresh"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindQueueAdded, KindQueueDeleting, KindQueueDeleted, KindAllocationRefresh}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindQueueAdded, KindQueueDeleting, KindQueueDeleted, KindAllocationRefresh:
		return true
	default:
		return false
	}
}

// Event is a notification published on the bus.
type Event struct {
	ID        id.EventID `json:"id"`
	Kind      Kind       `json:"kind"`
	Account   string     `json:"account,omitempty"`
	Queue     string     `json:"queue,omitempty"`
	Version   int        `json:"version,omitempty"`
	Origin    string     `json:"origin,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// New builds an event of kind with a fresh ID.
func New(kind Kind, origin string) *Event {
	return &Event{
		ID:        id.NewEventID(),
		Kind:      kind,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler reacts to an event. Handlers run on the bus's delivery
// goroutine and should return quickly.
type Handler func(ctx context.Context, evt *Event)

// Bus is a publish/subscribe channel.
type Bus interface {
	// Publish sends evt to subscribers of evt.Kind.
	Publish(ctx context.Context, evt *Event) error

	// Subscribe registers h for kind.
	Subscribe(kind Kind, h Handler) (id.SubscriptionID, error)

	// Unsubscribe removes a handler. Unknown IDs are ignored.
	Unsubscribe(subID id.SubscriptionID) error

	// Close stops delivery.
	Close() error
}

// Validate rejects events of an unknown kind.
func (e *Event) Validate() error {
	if !e.Kind.Valid() {
		return errUnknownKind(e.Kind)
	}
	return nil
}

func errUnknownKind(k Kind) error {
	return fmt.Errorf("cassieq/event: unknown kind %q", k)
}
