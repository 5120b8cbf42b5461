package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// NewBus returns a bus that reaches every bus created from the same
// Store, so engines sharing a Store see each other's events. Delivery is
// asynchronous.
func (m *Store) NewBus(_ context.Context, logger *slog.Logger) (event.Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &bus{store: m, logger: logger, subs: make(map[string]struct{})}, nil
}

type bus struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

func (b *bus) Publish(_ context.Context, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	cp := *evt
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.store.hub.Dispatch(context.Background(), &cp)
	}()
	return nil
}

func (b *bus) Subscribe(kind event.Kind, h event.Handler) (id.SubscriptionID, error) {
	subID, err := b.store.hub.Add(kind, h)
	if err != nil {
		return subID, err
	}
	b.mu.Lock()
	b.subs[subID.String()] = struct{}{}
	b.mu.Unlock()
	return subID, nil
}

func (b *bus) Unsubscribe(subID id.SubscriptionID) error {
	b.store.hub.Remove(subID)
	b.mu.Lock()
	delete(b.subs, subID.String())
	b.mu.Unlock()
	return nil
}

func (b *bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		if subID, err := id.ParseAny(s); err == nil {
			b.store.hub.Remove(subID)
		}
	}
	b.wg.Wait()
	return nil
}
