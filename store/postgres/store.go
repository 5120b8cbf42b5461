package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLock is the advisory lock key nodes take while migrating, so
// that a fleet starting together applies each file once.
const migrationLock int64 = 0x63617373_69657100

var (
	_ queue.Store         = (*Store)(nil)
	_ monoton.Store       = (*Store)(nil)
	_ pointer.Store       = (*Store)(nil)
	_ message.Store       = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ cluster.Store       = (*Store)(nil)
	_ cluster.LeaderStore = (*Store)(nil)
)

// Store keeps every queue table in PostgreSQL. Compare-and-set is a
// conditional UPDATE checked through RowsAffected, role locks are expiring
// rows and events travel over LISTEN/NOTIFY.
type Store struct {
	pool   *pgxpool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used for role lock expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New connects a pool to connString, a postgres:// URL or keyword/value
// DSN.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cassieq/postgres: connect: %w", err)
	}
	return NewFromPool(pool, opts...), nil
}

// NewFromPool wraps a pool the caller already opened. Close still closes
// it.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, clock: clock.System{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded migrations that are not yet recorded in
// cassieq_migrations. Each file runs in its own transaction under a
// shared advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("cassieq/postgres: list migrations: %w", err)
	}
	slices.Sort(files)

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cassieq_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("cassieq/postgres: create migrations table: %w", err)
	}

	for _, file := range files {
		name := path.Base(file)
		applied, err := s.applyMigration(ctx, file, name)
		if err != nil {
			return fmt.Errorf("cassieq/postgres: migration %s: %w", name, err)
		}
		if applied {
			s.logger.Info("applied migration", slog.String("file", name))
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, file, name string) (applied bool, err error) {
	script, err := fs.ReadFile(migrationsFS, file)
	if err != nil {
		return false, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
			return err
		}
		var done bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM cassieq_migrations WHERE filename = $1)`, name,
		).Scan(&done); err != nil || done {
			return err
		}
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO cassieq_migrations (filename) VALUES ($1)`, name); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the pool for callers running their own statements.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
