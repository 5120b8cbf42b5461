package event

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

type subscription struct {
	id      id.SubscriptionID
	kind    Kind
	handler Handler
}

// Handlers is the handler registry shared by Bus implementations: it maps
// each Kind to its subscribers and runs them for a delivered event. It is
// safe for concurrent use.
type Handlers struct {
	mu     sync.RWMutex
	byKind map[Kind][]*subscription
	byID   map[string]*subscription
	logger *slog.Logger
}

// NewHandlers creates an empty registry.
func NewHandlers(logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		byKind: make(map[Kind][]*subscription),
		byID:   make(map[string]*subscription),
		logger: logger,
	}
}

// Add registers h for kind.
func (hs *Handlers) Add(kind Kind, h Handler) (id.SubscriptionID, error) {
	if !kind.Valid() {
		return id.Nil, errUnknownKind(kind)
	}
	sub := &subscription{id: id.NewSubscriptionID(), kind: kind, handler: h}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.byKind[kind] = append(hs.byKind[kind], sub)
	hs.byID[sub.id.String()] = sub
	return sub.id, nil
}

// Remove unregisters a handler and reports whether it existed.
func (hs *Handlers) Remove(subID id.SubscriptionID) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	sub, ok := hs.byID[subID.String()]
	if !ok {
		return false
	}
	delete(hs.byID, subID.String())

	subs := hs.byKind[sub.kind]
	for i, s := range subs {
		if s == sub {
			hs.byKind[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(hs.byKind[sub.kind]) == 0 {
		delete(hs.byKind, sub.kind)
	}
	return true
}

// Count returns the number of handlers for kind.
func (hs *Handlers) Count(kind Kind) int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.byKind[kind])
}

// Dispatch runs every handler of evt.Kind. A panicking handler is logged
// and does not stop the others.
func (hs *Handlers) Dispatch(ctx context.Context, evt *Event) {
	hs.mu.RLock()
	subs := append([]*subscription(nil), hs.byKind[evt.Kind]...)
	hs.mu.RUnlock()

	for _, sub := range subs {
		hs.run(ctx, sub, evt)
	}
}

func (hs *Handlers) run(ctx context.Context, sub *subscription, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			hs.logger.Error("event handler panicked",
				slog.String("kind", string(evt.Kind)),
				slog.String("subscription_id", sub.id.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	sub.handler(ctx, evt)
}
