package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

const eventsChannel = "cassieq_events"

// NewBus holds one pooled connection in LISTEN mode and returns a bus that
// reaches every node sharing this database.
func (s *Store) NewBus(ctx context.Context, logger *slog.Logger) (event.Bus, error) {
	if logger == nil {
		logger = s.logger
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+eventsChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("cassieq/postgres: listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &bus{
		pool:     s.pool,
		conn:     conn,
		cancel:   cancel,
		handlers: event.NewHandlers(logger),
		logger:   logger,
	}
	b.wg.Add(1)
	go b.run(runCtx)
	return b, nil
}

type bus struct {
	pool     *pgxpool.Pool
	conn     *pgxpool.Conn
	cancel   context.CancelFunc
	handlers *event.Handlers
	logger   *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (b *bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		n, err := b.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(ctx.Err(), context.Canceled) {
				b.logger.Error("cassieq/postgres: listener stopped",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		var evt event.Event
		if err := json.Unmarshal([]byte(n.Payload), &evt); err != nil {
			b.logger.Warn("cassieq/postgres: dropping malformed event",
				slog.String("error", err.Error()),
			)
			continue
		}
		b.handlers.Dispatch(ctx, &evt)
	}
}

func (b *bus) Publish(ctx context.Context, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("cassieq/postgres: marshal event: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, eventsChannel, string(data)); err != nil {
		return fmt.Errorf("cassieq/postgres: notify event: %w", err)
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
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		// A wait interrupted by cancellation leaves the connection closed;
		// the pool discards it on release.
		if !b.conn.Conn().IsClosed() {
			_, _ = b.conn.Exec(context.Background(), "UNLISTEN *") //nolint:errcheck // best-effort cleanup
		}
		b.conn.Release()
	})
	return nil
}
