package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/clock"
)

// State is the ownership state of a role as seen by one node.
type State int

const (
	// Unclaimed means nobody live owns the role.
	Unclaimed State = iota
	// ClaimedByMe means the register names this node.
	ClaimedByMe
	// ClaimedByOther means the register names another live node.
	ClaimedByOther
)

func (s State) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case ClaimedByMe:
		return "claimed-by-me"
	case ClaimedByOther:
		return "claimed-by-other"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Classify decides the state of a register holding owner, from the point
// of view of self, given the live membership. An owner missing from live
// is stale and the role counts as unclaimed.
func Classify(owner, self string, live []string) State {
	switch {
	case owner == "":
		return Unclaimed
	case owner == self:
		return ClaimedByMe
	case !slices.Contains(live, owner):
		return Unclaimed
	default:
		return ClaimedByOther
	}
}

// lockPoll is the pause between attempts to take a busy role lock.
const lockPoll = 50 * time.Millisecond

// Elector claims and releases roles for one node.
type Elector struct {
	store    LeaderStore
	view     MembershipView
	self     string
	lockTTL  time.Duration
	lockWait time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	onChange func(role Role, leader bool)

	mu   sync.RWMutex
	held map[Role]bool
}

// ElectorOption configures an Elector.
type ElectorOption func(*Elector)

// WithLockTTL sets how long a role lock is held at most.
func WithLockTTL(d time.Duration) ElectorOption {
	return func(e *Elector) { e.lockTTL = d }
}

// WithLockWait bounds how long a claim waits for the role lock.
func WithLockWait(d time.Duration) ElectorOption {
	return func(e *Elector) { e.lockWait = d }
}

// WithClock sets the clock used between lock attempts.
func WithClock(c clock.Clock) ElectorOption {
	return func(e *Elector) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ElectorOption {
	return func(e *Elector) { e.logger = l }
}

// WithLeadershipHook is called whenever this node gains or loses a role.
func WithLeadershipHook(fn func(role Role, leader bool)) ElectorOption {
	return func(e *Elector) { e.onChange = fn }
}

// NewElector creates an Elector for the node self.
func NewElector(store LeaderStore, view MembershipView, self string, opts ...ElectorOption) *Elector {
	e := &Elector{
		store:    store,
		view:     view,
		self:     self,
		lockTTL:  5 * time.Second,
		lockWait: 2 * time.Second,
		clock:    clock.System{},
		logger:   slog.Default(),
		held:     make(map[Role]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsLeader reports whether the last election round for role ended with
// this node owning it.
func (e *Elector) IsLeader(role Role) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.held[role]
}

// TryClaim runs one election round for role. It returns true when this
// node owns the role afterwards. Failing to get the lock in time is not
// an error; the role keeps its previous local state and the caller tries
// again next tick.
func (e *Elector) TryClaim(ctx context.Context, role Role) (bool, error) {
	var won bool
	locked, err := e.withLock(ctx, role, func(ctx context.Context) error {
		owner, err := e.store.GetRoleOwner(ctx, role)
		if err != nil {
			return err
		}
		live, err := e.view.LiveMembers(ctx)
		if err != nil {
			return err
		}

		switch Classify(owner, e.self, live) {
		case ClaimedByMe:
			won = true
		case Unclaimed:
			if err := e.store.SetRoleOwner(ctx, role, e.self); err != nil {
				return err
			}
			if owner != "" {
				e.logger.Info("reclaimed role from stale owner",
					slog.String("role", string(role)),
					slog.String("stale_owner", owner),
				)
			}
			won = true
		case ClaimedByOther:
			won = false
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cassieq/cluster: claim %s: %w", role, err)
	}
	if !locked {
		return e.IsLeader(role), nil
	}
	e.set(role, won)
	return won, nil
}

// Release clears the register of role if it names this node.
func (e *Elector) Release(ctx context.Context, role Role) (bool, error) {
	var released bool
	locked, err := e.withLock(ctx, role, func(ctx context.Context) error {
		owner, err := e.store.GetRoleOwner(ctx, role)
		if err != nil {
			return err
		}
		if owner != e.self {
			return nil
		}
		if err := e.store.SetRoleOwner(ctx, role, ""); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cassieq/cluster: release %s: %w", role, err)
	}
	if locked {
		e.set(role, false)
	}
	return released, nil
}

// withLock runs fn while holding the lock of role. It reports false
// without calling fn when the lock could not be taken within lockWait or
// ctx ended while waiting.
func (e *Elector) withLock(ctx context.Context, role Role, fn func(ctx context.Context) error) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()

	for {
		ok, err := e.store.LockRole(waitCtx, role, e.self, e.lockTTL)
		if err == nil && ok {
			break
		}
		if err != nil && waitCtx.Err() == nil {
			e.logger.Warn("role lock attempt failed",
				slog.String("role", string(role)),
				slog.String("error", err.Error()),
			)
		}
		if sleepErr := e.clock.Sleep(waitCtx, lockPoll); sleepErr != nil || waitCtx.Err() != nil {
			e.logger.Debug("role lock not acquired this round", slog.String("role", string(role)))
			return false, nil
		}
	}

	defer func() {
		// Unlock even if ctx was cancelled while fn ran.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.lockTTL)
		defer cancel()
		if err := e.store.UnlockRole(unlockCtx, role, e.self); err != nil {
			e.logger.Warn("role unlock failed",
				slog.String("role", string(role)),
				slog.String("error", err.Error()),
			)
		}
	}()

	return true, fn(ctx)
}

func (e *Elector) set(role Role, leader bool) {
	e.mu.Lock()
	prev := e.held[role]
	e.held[role] = leader
	e.mu.Unlock()

	if prev == leader {
		return
	}
	if leader {
		e.logger.Info("acquired leadership", slog.String("role", string(role)), slog.String("node_id", e.self))
	} else {
		e.logger.Info("lost leadership", slog.String("role", string(role)), slog.String("node_id", e.self))
	}
	if e.onChange != nil {
		e.onChange(role, leader)
	}
}
