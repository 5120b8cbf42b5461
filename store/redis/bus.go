package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// NewBus subscribes to the store's Pub/Sub channel and returns a bus
// that reaches every node sharing this Redis.
func (s *Store) NewBus(ctx context.Context, logger *slog.Logger) (event.Bus, error) {
	if logger == nil {
		logger = s.logger
	}
	ps := s.client.Subscribe(ctx, s.keys.events())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("cassieq/redis: subscribe events: %w", err)
	}

	b := &bus{
		client:   s.client,
		channel:  s.keys.events(),
		ps:       ps,
		handlers: event.NewHandlers(logger),
		logger:   logger,
	}
	b.wg.Add(1)
	go b.run()
	return b, nil
}

type bus struct {
	client   goredis.UniversalClient
	channel  string
	ps       *goredis.PubSub
	handlers *event.Handlers
	logger   *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (b *bus) run() {
	defer b.wg.Done()
	for msg := range b.ps.Channel() {
		var evt event.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logger.Warn("cassieq/redis: dropping malformed event",
				slog.String("error", err.Error()),
			)
			continue
		}
		b.handlers.Dispatch(context.Background(), &evt)
	}
}

func (b *bus) Publish(ctx context.Context, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("cassieq/redis: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("cassieq/redis: publish event: %w", err)
	}
	return nil
}

func (b *bus) Subscribe(kind event.Kind, h event.Handler) (id.SubscriptionID, error) {
	return b.handlers.Add(kind, h)
}

func (b *bus) Unsubscribe(subID id.SubscriptionID) error {
	b.handlers.Remove(subID)
	return nil
}

func (b *bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.ps.Close()
		b.wg.Wait()
	})
	return err
}
