package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/api"
	audithook "github.com/paradoxical-io/cassieq-sub001/audit_hook"
	"github.com/paradoxical-io/cassieq-sub001/cluster/k8s"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/store"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"
	"github.com/paradoxical-io/cassieq-sub001/store/postgres"
	redisstore "github.com/paradoxical-io/cassieq-sub001/store/redis"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Cluster providers.
const (
	ClusterStore      = "store"
	ClusterKubernetes = "kubernetes"
)

// Options configures Run.
type Options struct {
	HTTPAddr string

	Store       string
	RedisAddr   string
	RedisPrefix string
	PostgresDSN string

	// Cluster selects where membership and role locks live: in the store,
	// or in Pods and Leases of KubeNamespace.
	Cluster       string
	KubeNamespace string

	LogLevel  string
	LogFormat string

	// Audit logs queue lifecycle, poison and cluster events.
	Audit bool

	Config cassieq.Config

	// Output receives log lines. Nil means stderr.
	Output io.Writer

	// Ready, when set, receives the bound HTTP address once the node
	// serves requests.
	Ready func(addr string)
}

// DefaultOptions returns Options for a single in-memory node.
func DefaultOptions() Options {
	return Options{
		HTTPAddr:    ":8080",
		Store:       StoreMemory,
		RedisAddr:   "127.0.0.1:6379",
		RedisPrefix: "cassieq",
		Cluster:     ClusterStore,
		LogLevel:    "info",
		LogFormat:   "text",
		Config:      cassieq.DefaultConfig(),
	}
}

// NewLogger builds the process logger from a level and a text or json
// format.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q; use text|json", format)
	}
}

// OpenStore opens and migrates the backend named by opts.Store. The
// returned func releases the store and its connections.
func OpenStore(ctx context.Context, opts Options, logger *slog.Logger) (store.Store, func() error, error) {
	var (
		s       store.Store
		closeFn func() error
	)
	switch opts.Store {
	case StoreMemory:
		s = memory.New()
		closeFn = s.Close
	case StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		s = redisstore.New(client, redisstore.WithPrefix(opts.RedisPrefix), redisstore.WithLogger(logger))
		closeFn = func() error { return errors.Join(s.Close(), client.Close()) }
	case StorePostgres:
		if opts.PostgresDSN == "" {
			return nil, nil, errors.New("postgres store needs a DSN")
		}
		pg, err := postgres.New(ctx, opts.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = pg
		closeFn = pg.Close
	default:
		return nil, nil, fmt.Errorf("unknown store %q; use memory|redis|postgres", opts.Store)
	}

	if err := s.Ping(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ping %s store: %w", opts.Store, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("migrate %s store: %w", opts.Store, err)
	}
	return s, closeFn, nil
}

// clusterOptions returns the engine options for opts.Cluster.
func clusterOptions(opts Options, logger *slog.Logger) ([]engine.Option, error) {
	switch opts.Cluster {
	case "", ClusterStore:
		return nil, nil
	case ClusterKubernetes:
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		cs, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		p := k8s.New(cs, opts.KubeNamespace, k8s.WithLogger(logger))
		return []engine.Option{
			engine.WithMemberStore(p),
			engine.WithLeaderStore(p),
			engine.WithMembershipView(p),
		}, nil
	default:
		return nil, fmt.Errorf("unknown cluster provider %q; use store|kubernetes", opts.Cluster)
	}
}

// Run starts a node and blocks until ctx is cancelled, then shuts it down.
func Run(ctx context.Context, opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger, err := NewLogger(out, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}

	s, closeStore, err := OpenStore(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	engOpts, err := clusterOptions(opts, logger)
	if err != nil {
		return err
	}
	engOpts = append(engOpts, engine.WithLogger(logger))
	if opts.Audit {
		engOpts = append(engOpts, engine.WithExtension(audithook.New(slogRecorder(logger), audithook.WithLogger(logger))))
	}

	eng, err := engine.New(s, opts.Config, engOpts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", opts.HTTPAddr)
	if err != nil {
		_ = eng.Stop(context.Background())
		return fmt.Errorf("listen %s: %w", opts.HTTPAddr, err)
	}
	srv := &http.Server{
		Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.Info("cassieq server listening",
		slog.String("http", ln.Addr().String()),
		slog.String("store", opts.Store),
		slog.String("cluster", opts.Cluster),
		slog.String("node_id", eng.NodeID().String()),
	)
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	logger.Info("cassieq server stopped")
	return runErr
}

// slogRecorder writes audit events as structured log lines.
func slogRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if evt.Severity != audithook.SeverityInfo {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("account", evt.Account),
			slog.String("outcome", evt.Outcome),
			slog.String("reason", evt.Reason),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}
