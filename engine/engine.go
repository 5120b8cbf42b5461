package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/allocation"
	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/ext"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/lifecycle"
	"github.com/paradoxical-io/cassieq-sub001/message"
	mw "github.com/paradoxical-io/cassieq-sub001/middleware"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/observability"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/reader"
	"github.com/paradoxical-io/cassieq-sub001/repair"
	"github.com/paradoxical-io/cassieq-sub001/scheduler"
	"github.com/paradoxical-io/cassieq-sub001/store"
	"github.com/paradoxical-io/cassieq-sub001/worker"
)

// instrumentationName is the OTel scope used for engine-created tracers
// and meters.
const instrumentationName = "github.com/paradoxical-io/cassieq-sub001"

// roles are the singleton roles every node competes for.
var roles = []cluster.Role{cluster.RoleDeletionSweeper, cluster.RoleDefinitionJanitor}

// Engine is a cassieq node: the queue API plus the background loops that
// keep queues healthy.
type Engine struct {
	cfg    cassieq.Config
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
	nodeID id.NodeID

	extensions *ext.Registry
	limiter    *queue.Limiter
	mws        []mw.Middleware

	counter   *monoton.Allocator
	pointers  *pointer.Pointers
	messages  *message.Service
	reader    *reader.Reader
	repairer  *repair.Worker
	dlq       *dlq.Service
	lifecycle *lifecycle.Manager

	bus     event.Bus
	ownsBus bool
	subs    []id.SubscriptionID

	members    cluster.Store
	leaders    cluster.LeaderStore
	view       cluster.MembershipView
	membership *cluster.Membership
	elector    *cluster.Elector

	sched *scheduler.Scheduler
	host  *worker.Host
	alloc *allocation.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the clock used for visibility deadlines, heartbeats and
// retry waits.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the chain background tasks run through.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithLimits throttles put and consume per account or per queue.
func WithLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		for _, l := range limits {
			eng.limiter.Set(l)
		}
	}
}

// WithBus sets the event bus. By default the store's bus is used when the
// store provides one, and an in-process bus otherwise.
func WithBus(b event.Bus) Option {
	return func(eng *Engine) { eng.bus = b }
}

// WithMemberStore sets where this node registers itself. Defaults to the
// store.
func WithMemberStore(s cluster.Store) Option {
	return func(eng *Engine) { eng.members = s }
}

// WithLeaderStore sets the leadership register. Defaults to the store.
func WithLeaderStore(s cluster.LeaderStore) Option {
	return func(eng *Engine) { eng.leaders = s }
}

// WithMembershipView sets the live membership view used for elections and
// cluster allocation. Defaults to a heartbeat view over the member store.
func WithMembershipView(v cluster.MembershipView) Option {
	return func(eng *Engine) { eng.view = v }
}

// WithNodeID fixes this node's identity instead of generating one.
func WithNodeID(nodeID id.NodeID) Option {
	return func(eng *Engine) { eng.nodeID = nodeID }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it instead of the global
// one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New validates cfg and wires every subsystem over s. Background loops do
// not run until Start.
func New(s store.Store, cfg cassieq.Config, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, cassieq.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:        cfg,
		store:      s,
		clock:      clock.System{},
		logger:     slog.Default(),
		extensions: ext.NewRegistry(nil),
		limiter:    queue.NewLimiter(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.nodeID.IsNil() {
		eng.nodeID = id.NewNodeID()
	}
	self := eng.nodeID.String()
	logger := eng.logger.With(slog.String("node_id", self))
	eng.logger = logger

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Event bus.
	if eng.bus == nil {
		if bp, ok := s.(store.BusProvider); ok {
			b, err := bp.NewBus(context.Background(), logger)
			if err != nil {
				return nil, fmt.Errorf("cassieq/engine: open bus: %w", err)
			}
			eng.bus = b
		} else {
			eng.bus = event.NewLocalBus(256, logger)
		}
		eng.ownsBus = true
	}

	// Storage primitives share one retry policy.
	policy := backoff.NewPolicy(cfg.CASRetryWait, cfg.CASRetryMaxWait, cfg.CASMaxRetries, eng.clock)
	eng.counter = monoton.New(s, monoton.WithPolicy(policy), monoton.WithLogger(logger))
	eng.pointers = pointer.New(s, pointer.WithPolicy(policy), pointer.WithLogger(logger))
	eng.messages = message.NewService(s, message.WithClock(eng.clock), message.WithPolicy(policy))
	eng.dlq = dlq.NewService(s, eng.clock.Now)

	eng.reader = reader.New(eng.messages, eng.pointers, eng.counter,
		reader.WithLookahead(cfg.ReaderLookahead),
		reader.WithLogger(logger),
	)
	eng.repairer = repair.New(eng.messages, eng.pointers, eng.counter,
		repair.WithDefinitions(s),
		repair.WithLookahead(cfg.RepairLookahead),
		repair.WithDLQ(eng.dlq),
		repair.WithForwarder(eng),
		repair.WithEmitter(eng.extensions),
		repair.WithLogger(logger),
	)

	// Scheduler with the default middleware stack:
	// recover → tracing → metrics → logging → timeout.
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}
	allMws := make([]mw.Middleware, 0, 5+len(eng.mws))
	allMws = append(allMws, mw.Recover(logger), tracingMw, metricsMw, mw.Logging(logger), mw.Timeout())
	allMws = append(allMws, eng.mws...)
	eng.sched = scheduler.New(
		scheduler.WithMiddleware(allMws...),
		scheduler.WithClock(eng.clock),
		scheduler.WithLogger(logger),
	)

	eng.lifecycle = lifecycle.New(s, eng.counter, eng.pointers, eng.messages,
		lifecycle.Defaults{
			BucketSize:       cfg.DefaultBucketSize,
			MaxDeliveryCount: cfg.DefaultMaxDeliveryCount,
			RepairInterval:   cfg.DefaultRepairInterval,
			TombstoneGrace:   cfg.DefaultTombstoneGrace,
		},
		lifecycle.WithScheduler(eng.sched),
		lifecycle.WithBus(eng.bus),
		lifecycle.WithEmitter(eng.extensions),
		lifecycle.WithClock(eng.clock),
		lifecycle.WithPolicy(policy),
		lifecycle.WithDeletionDelay(cfg.DeletionDelay),
		lifecycle.WithDeletionGrace(cfg.AllocationInterval),
		lifecycle.WithRetention(cfg.DefinitionRetention),
		lifecycle.WithOrigin(self),
		lifecycle.WithLogger(logger),
	)

	// Cluster.
	if eng.members == nil {
		eng.members = s
	}
	if eng.leaders == nil {
		eng.leaders = s
	}
	if eng.view == nil {
		eng.view = cluster.NewHeartbeatView(eng.members, cfg.MemberTTL, eng.clock)
	}
	eng.membership = cluster.NewMembership(eng.members, eng.nodeID, cfg.NodeName, eng.clock, logger)
	eng.elector = cluster.NewElector(eng.leaders, eng.view, self,
		cluster.WithLockTTL(cfg.LockTTL),
		cluster.WithLockWait(cfg.LockWait),
		cluster.WithLogger(logger),
		cluster.WithLeadershipHook(func(role cluster.Role, leader bool) {
			eng.extensions.EmitLeadershipChanged(context.Background(), role, leader)
		}),
	)

	// Allocation drives the per-queue repair loops.
	eng.host = worker.NewHost(s, eng.repairer, eng.sched,
		worker.WithJitter(cfg.RepairJitter),
		worker.WithLogger(logger),
	)
	allocator := allocation.NewAllocator(allocation.Config{
		Strategy: cfg.Allocation,
		Self:     self,
		Slot:     cfg.ManualSlot,
		Total:    cfg.ManualTotal,
	}, eng.view)
	eng.alloc = allocation.NewManager(allocator, eng.activeQueues, eng.host,
		allocation.WithEmitter(eng.extensions),
		allocation.WithLogger(logger),
	)

	return eng, nil
}

// activeQueues is the allocation source: every active queue version.
func (eng *Engine) activeQueues(ctx context.Context) ([]allocation.Resource, error) {
	defs, err := eng.lifecycle.List(ctx, queue.StatusActive)
	if err != nil {
		return nil, err
	}
	out := make([]allocation.Resource, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID().String())
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Start / Stop
// ──────────────────────────────────────────────────

// Start joins the cluster and starts the background loops: membership
// heartbeat, elections, allocation, the deletion sweeper and the
// definition janitor. An Engine cannot be started again once stopped.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}
	if eng.sched.Stopped() {
		return cassieq.ErrEngineStopped
	}

	if err := eng.membership.Join(ctx); err != nil {
		return err
	}

	// Lifecycle changes anywhere in the cluster trigger a reallocation.
	for _, kind := range event.Kinds {
		subID, err := eng.bus.Subscribe(kind, eng.onLifecycleEvent)
		if err != nil {
			return fmt.Errorf("cassieq/engine: subscribe %s: %w", kind, err)
		}
		eng.subs = append(eng.subs, subID)
	}

	cfg := eng.cfg
	eng.sched.Every(scheduler.Spec{Name: "membership.heartbeat", Timeout: cfg.HeartbeatInterval}, cfg.HeartbeatInterval, 0, eng.heartbeat)
	eng.sched.Every(scheduler.Spec{Name: "cluster.election", Timeout: cfg.ElectionInterval}, cfg.ElectionInterval, 0, eng.elect)
	eng.sched.Every(scheduler.Spec{Name: "allocation.refresh", Timeout: cfg.AllocationInterval}, cfg.AllocationInterval, 0, eng.alloc.Refresh)
	eng.sched.Every(scheduler.Spec{Name: "queue.deletion-sweep"}, cfg.DeletionSweepInterval, cfg.DeletionSweepInterval, eng.sweepDeletions)
	if cfg.JanitorSchedule != "" {
		if _, err := eng.sched.Cron(scheduler.Spec{Name: "queue.janitor"}, cfg.JanitorSchedule, eng.janitor); err != nil {
			return err
		}
	}

	eng.started = true
	eng.logger.Info("cassieq node started",
		slog.String("allocation", string(cfg.Allocation)),
	)
	return nil
}

// Stop releases this node's queues and roles, stops every loop and leaves
// the cluster. Without a deadline on ctx, Config.ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for _, subID := range eng.subs {
		if err := eng.bus.Unsubscribe(subID); err != nil {
			errs = append(errs, err)
		}
	}
	eng.subs = nil

	if err := eng.alloc.ReleaseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := eng.sched.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if eng.started {
		for _, role := range roles {
			if _, err := eng.elector.Release(ctx, role); err != nil {
				eng.logger.Warn("release role failed",
					slog.String("role", string(role)),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := eng.membership.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	eng.extensions.EmitShutdown(ctx)

	if eng.ownsBus {
		if err := eng.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cassieq/engine: close bus: %w", err))
		}
	}

	eng.started = false
	return errors.Join(errs...)
}

func (eng *Engine) heartbeat(ctx context.Context) error {
	if err := eng.membership.Heartbeat(ctx); err != nil {
		return err
	}
	_, err := eng.membership.Reap(ctx, 3*eng.cfg.MemberTTL)
	return err
}

// elect runs one election round for every role concurrently.
func (eng *Engine) elect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		g.Go(func() error {
			_, err := eng.elector.TryClaim(gctx, role)
			return err
		})
	}
	return g.Wait()
}

func (eng *Engine) sweepDeletions(ctx context.Context) error {
	if !eng.elector.IsLeader(cluster.RoleDeletionSweeper) {
		return nil
	}
	return eng.lifecycle.ResumeDeletions(ctx)
}

func (eng *Engine) janitor(ctx context.Context) error {
	if !eng.elector.IsLeader(cluster.RoleDefinitionJanitor) {
		return nil
	}
	purged, err := eng.lifecycle.Purge(ctx)
	if err != nil {
		return err
	}
	dropped, err := eng.dlq.DLQStore().PurgeDLQ(ctx, eng.clock.Now().Add(-eng.cfg.DefinitionRetention))
	if err != nil {
		return fmt.Errorf("cassieq/engine: purge dlq: %w", err)
	}
	if purged > 0 || dropped > 0 {
		eng.logger.Info("janitor purged",
			slog.Int("definitions", purged),
			slog.Int64("dlq_entries", dropped),
		)
	}
	return nil
}

func (eng *Engine) onLifecycleEvent(ctx context.Context, evt *event.Event) {
	ran, err := eng.alloc.RequestRefresh(ctx)
	if err != nil {
		eng.logger.Warn("event-triggered allocation refresh failed",
			slog.String("kind", string(evt.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ran {
		eng.logger.Debug("allocation refresh throttled", slog.String("kind", string(evt.Kind)))
	}
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// NodeID returns this node's identity.
func (eng *Engine) NodeID() id.NodeID { return eng.nodeID }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Bus returns the event bus.
func (eng *Engine) Bus() event.Bus { return eng.bus }

// Elector returns the leadership elector.
func (eng *Engine) Elector() *cluster.Elector { return eng.elector }

// Allocation returns the allocation manager.
func (eng *Engine) Allocation() *allocation.Manager { return eng.alloc }

// Lifecycle returns the queue lifecycle manager.
func (eng *Engine) Lifecycle() *lifecycle.Manager { return eng.lifecycle }

// DLQService returns the engine's DLQ service for inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlq }

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// Clock returns the engine's clock.
func (eng *Engine) Clock() clock.Clock { return eng.clock }

// Config returns the validated configuration.
func (eng *Engine) Config() cassieq.Config { return eng.cfg }
