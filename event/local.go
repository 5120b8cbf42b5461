package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Compile-time check.
var _ Bus = (*LocalBus)(nil)

// LocalBus delivers events to handlers in the same process. Publish never
// blocks: events are queued to one delivery goroutine and dropped when
// the buffer is full.
type LocalBus struct {
	handlers *Handlers
	logger   *slog.Logger

	ch        chan *Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLocalBus creates and starts a LocalBus with the given buffer size.
func NewLocalBus(buffer int, logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	b := &LocalBus{
		handlers: NewHandlers(logger),
		logger:   logger,
		ch:       make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.deliverLoop()
	return b
}

// Publish implements Bus.
func (b *LocalBus) Publish(_ context.Context, evt *Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return nil
	default:
	}
	select {
	case b.ch <- evt:
	default:
		b.logger.Warn("event dropped, bus buffer full",
			slog.String("kind", string(evt.Kind)),
			slog.String("event_id", evt.ID.String()),
		)
	}
	return nil
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(kind Kind, h Handler) (id.SubscriptionID, error) {
	return b.handlers.Add(kind, h)
}

// Unsubscribe implements Bus.
func (b *LocalBus) Unsubscribe(subID id.SubscriptionID) error {
	b.handlers.Remove(subID)
	return nil
}

// Close implements Bus. Events still buffered are discarded.
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	return nil
}

func (b *LocalBus) deliverLoop() {
	defer b.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-b.done:
			return
		case evt := <-b.ch:
			b.handlers.Dispatch(ctx, evt)
		}
	}
}
