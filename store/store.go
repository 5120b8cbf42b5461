package store

import (
	"context"
	"log/slog"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	queue.Store
	monoton.Store
	pointer.Store
	message.Store
	dlq.Store
	cluster.Store
	cluster.LeaderStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// BusProvider is implemented by backends that can carry events between
// nodes. Engines over a store without it use an in-process event.LocalBus.
type BusProvider interface {
	NewBus(ctx context.Context, logger *slog.Logger) (event.Bus, error)
}
