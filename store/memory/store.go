package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/event"
	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ queue.Store         = (*Store)(nil)
	_ monoton.Store       = (*Store)(nil)
	_ pointer.Store       = (*Store)(nil)
	_ message.Store       = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ cluster.Store       = (*Store)(nil)
	_ cluster.LeaderStore = (*Store)(nil)
)

type pointers struct {
	reader uint64
	repair uint64
	invis  uint64
}

type roleLock struct {
	holder string
	until  time.Time
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing, development and
// single-node deployments. Several engines sharing one Store behave like
// a cluster sharing a database.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	defs     map[string]*queue.Definition
	counters map[string]uint64
	pointers map[string]*pointers
	messages map[string]map[uint64]*message.Message
	markers  map[string]map[uint64]time.Time
	dlqs     map[string]*dlq.Entry
	members  map[string]*cluster.Member
	locks    map[cluster.Role]roleLock
	owners   map[cluster.Role]string

	hub *event.Handlers
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for lock expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:    clock.System{},
		defs:     make(map[string]*queue.Definition),
		counters: make(map[string]uint64),
		pointers: make(map[string]*pointers),
		messages: make(map[string]map[uint64]*message.Message),
		markers:  make(map[string]map[uint64]time.Time),
		dlqs:     make(map[string]*dlq.Entry),
		members:  make(map[string]*cluster.Member),
		locks:    make(map[cluster.Role]roleLock),
		owners:   make(map[cluster.Role]string),
		hub:      event.NewHandlers(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

func refPrefix(ref queue.Ref) string { return ref.String() + "/" }

// CreateDefinition inserts a new queue version.
func (m *Store) CreateDefinition(_ context.Context, d *queue.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID().String()
	if _, exists := m.defs[key]; exists {
		return cassieq.ErrVersionConflict
	}
	prefix := refPrefix(d.Ref())
	for k, other := range m.defs {
		if strings.HasPrefix(k, prefix) && other.Status == queue.StatusActive {
			return cassieq.ErrQueueExists
		}
	}
	cp := *d
	m.defs[key] = &cp
	return nil
}

// GetDefinition returns one queue version.
func (m *Store) GetDefinition(_ context.Context, q queue.ID) (*queue.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.defs[q.String()]
	if !ok {
		return nil, cassieq.ErrQueueNotFound
	}
	cp := *d
	return &cp, nil
}

// GetActiveDefinition returns the active version of ref.
func (m *Store) GetActiveDefinition(_ context.Context, ref queue.Ref) (*queue.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := refPrefix(ref)
	for k, d := range m.defs {
		if strings.HasPrefix(k, prefix) && d.Status == queue.StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, cassieq.ErrQueueNotFound
}

// LatestVersion returns the highest version recorded for ref.
func (m *Store) LatestVersion(_ context.Context, ref queue.Ref) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest, found := 0, false
	prefix := refPrefix(ref)
	for k, d := range m.defs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !found || d.Version > latest {
			latest, found = d.Version, true
		}
	}
	return latest, found, nil
}

// ListDefinitions returns definitions in status, ordered by ID string.
func (m *Store) ListDefinitions(_ context.Context, status queue.Status) ([]*queue.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*queue.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID().String() < result[k].ID().String()
	})
	return result, nil
}

// UpdateDefinitionStatus moves one version between statuses.
func (m *Store) UpdateDefinitionStatus(_ context.Context, q queue.ID, from, to queue.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.defs[q.String()]
	if !ok {
		return false, cassieq.ErrQueueNotFound
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = at
	return true, nil
}

// DeleteDefinition removes a deleted version's record.
func (m *Store) DeleteDefinition(_ context.Context, q queue.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.defs[q.String()]
	if !ok || d.Status != queue.StatusDeleted {
		return false, nil
	}
	delete(m.defs, q.String())
	return true, nil
}

// ──────────────────────────────────────────────────
// Counter Store
// ──────────────────────────────────────────────────

// IncrementCounter moves the counter from expected to expected+1.
func (m *Store) IncrementCounter(_ context.Context, q queue.ID, expected uint64) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := q.String()
	cur := m.counters[key]
	if cur != expected {
		return cur, false, nil
	}
	m.counters[key] = cur + 1
	return cur + 1, true, nil
}

// ReadCounter returns the counter of q.
func (m *Store) ReadCounter(_ context.Context, q queue.ID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[q.String()], nil
}

// DeleteCounter removes the counter of q.
func (m *Store) DeleteCounter(_ context.Context, q queue.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, q.String())
	return nil
}

// ──────────────────────────────────────────────────
// Pointer Store
// ──────────────────────────────────────────────────

func (m *Store) pointersFor(q queue.ID) *pointers {
	p, ok := m.pointers[q.String()]
	if !ok {
		p = &pointers{}
		m.pointers[q.String()] = p
	}
	return p
}

func bucketField(p *pointers, kind pointer.Kind) *uint64 {
	if kind == pointer.Repair {
		return &p.repair
	}
	return &p.reader
}

// GetBucketPointer returns a bucket pointer of q.
func (m *Store) GetBucketPointer(_ context.Context, q queue.ID, kind pointer.Kind) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pointers[q.String()]
	if !ok {
		return 0, nil
	}
	return *bucketField(p, kind), nil
}

// AdvanceBucketPointer moves a bucket pointer forward from expected.
func (m *Store) AdvanceBucketPointer(_ context.Context, q queue.ID, kind pointer.Kind, expected, next uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := bucketField(m.pointersFor(q), kind)
	if *f == expected && next > expected {
		*f = next
	}
	return *f, nil
}

// GetInvisibilityPointer returns the watermark of q.
func (m *Store) GetInvisibilityPointer(_ context.Context, q queue.ID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pointers[q.String()]
	if !ok {
		return 0, nil
	}
	return p.invis, nil
}

// MoveInvisibilityPointer sets the watermark, taking the minimum on
// conflict.
func (m *Store) MoveInvisibilityPointer(_ context.Context, q queue.ID, expected, proposed uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pointersFor(q)
	if p.invis == expected {
		p.invis = proposed
	} else {
		p.invis = min(p.invis, proposed)
	}
	return p.invis, nil
}

// DeletePointers removes every pointer of q.
func (m *Store) DeletePointers(_ context.Context, q queue.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pointers, q.String())
	return nil
}

// ──────────────────────────────────────────────────
// Message Store
// ──────────────────────────────────────────────────

func (m *Store) rowsFor(q queue.ID) map[uint64]*message.Message {
	rows, ok := m.messages[q.String()]
	if !ok {
		rows = make(map[uint64]*message.Message)
		m.messages[q.String()] = rows
	}
	return rows
}

// PutMessage inserts a row if its index is free.
func (m *Store) PutMessage(_ context.Context, q queue.ID, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.rowsFor(q)
	if existing, ok := rows[msg.Index]; ok {
		if existing.CreatedBy == msg.CreatedBy {
			return nil
		}
		return cassieq.ErrMessageConflict
	}
	rows[msg.Index] = msg.Clone()
	return nil
}

// GetMessage returns the row at index.
func (m *Store) GetMessage(_ context.Context, q queue.ID, index uint64) (*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.messages[q.String()][index]
	if !ok {
		return nil, cassieq.ErrMessageNotFound
	}
	return row.Clone(), nil
}

// ConsumeMessage delivers a visible row that still has version.
func (m *Store) ConsumeMessage(_ context.Context, q queue.ID, index uint64, version int, now, invisibleUntil time.Time, tag string) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.messages[q.String()][index]
	if !ok || row.Version != version || !row.Visible(now) {
		return nil, nil
	}
	until := invisibleUntil
	row.InvisibleUntil = &until
	row.DeliveryCount++
	row.Version++
	row.Tag = tag
	row.UpdatedAt = now
	return row.Clone(), nil
}

// AckMessage tombstones a row that still has version.
func (m *Store) AckMessage(_ context.Context, q queue.ID, index uint64, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.messages[q.String()][index]
	if !ok {
		return false, cassieq.ErrMessageNotFound
	}
	if row.Tombstoned || row.Version != version {
		return false, nil
	}
	row.Tombstoned = true
	row.UpdatedAt = at
	return true, nil
}

// UpdateMessageVisibility hides a row that still has version.
func (m *Store) UpdateMessageVisibility(_ context.Context, q queue.ID, index uint64, version int, invisibleUntil time.Time, payload []byte, tag string, at time.Time) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.messages[q.String()][index]
	if !ok {
		return nil, cassieq.ErrMessageNotFound
	}
	if row.Tombstoned || row.Version != version {
		return nil, nil
	}
	until := invisibleUntil
	row.InvisibleUntil = &until
	if payload != nil {
		row.Payload = slices.Clone(payload)
	}
	row.Version++
	row.Tag = tag
	row.UpdatedAt = at
	return row.Clone(), nil
}

// UpdateMessageByTag replaces the payload of a row that still has tag.
func (m *Store) UpdateMessageByTag(_ context.Context, q queue.ID, index uint64, tag string, payload []byte, newTag string, at time.Time) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.messages[q.String()][index]
	if !ok {
		return nil, cassieq.ErrMessageNotFound
	}
	if row.Tombstoned || row.Tag != tag {
		return nil, nil
	}
	row.Payload = slices.Clone(payload)
	row.Tag = newTag
	row.UpdatedAt = at
	return row.Clone(), nil
}

// GetBucketContents returns every row of b ordered by index.
func (m *Store) GetBucketContents(_ context.Context, q queue.ID, b message.Bucket) ([]*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.messages[q.String()]
	result := make([]*message.Message, 0, b.Size)
	for i := b.Start(); i < b.End(); i++ {
		if row, ok := rows[i]; ok {
			result = append(result, row.Clone())
		}
	}
	return result, nil
}

// TombstoneBucket records the earliest time the reader passed bucket.
func (m *Store) TombstoneBucket(_ context.Context, q queue.ID, bucket uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	markers, ok := m.markers[q.String()]
	if !ok {
		markers = make(map[uint64]time.Time)
		m.markers[q.String()] = markers
	}
	if existing, ok := markers[bucket]; ok && !at.Before(existing) {
		return nil
	}
	markers[bucket] = at
	return nil
}

// BucketTombstone returns the marker time of bucket, or nil.
func (m *Store) BucketTombstone(_ context.Context, q queue.ID, bucket uint64) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	at, ok := m.markers[q.String()][bucket]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// DeleteBucket removes the rows and marker of b.
func (m *Store) DeleteBucket(_ context.Context, q queue.ID, b message.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := q.String()
	if rows, ok := m.messages[key]; ok {
		for i := b.Start(); i < b.End(); i++ {
			delete(rows, i)
		}
		if len(rows) == 0 {
			delete(m.messages, key)
		}
	}
	if markers, ok := m.markers[key]; ok {
		delete(markers, b.Number)
		if len(markers) == 0 {
			delete(m.markers, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a poison report.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Account != "" && e.Account != opts.Account {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, cassieq.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return cassieq.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterMember adds or replaces a member.
func (m *Store) RegisterMember(_ context.Context, mem *cluster.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mem
	m.members[mem.ID.String()] = &cp
	return nil
}

// DeregisterMember removes a member from the registry.
func (m *Store) DeregisterMember(_ context.Context, nodeID id.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeID.String()
	if _, ok := m.members[key]; !ok {
		return cassieq.ErrMemberNotFound
	}
	delete(m.members, key)
	return nil
}

// HeartbeatMember updates the last-seen timestamp for a member.
func (m *Store) HeartbeatMember(_ context.Context, nodeID id.NodeID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[nodeID.String()]
	if !ok {
		return cassieq.ErrMemberNotFound
	}
	mem.LastSeen = at
	return nil
}

// ListMembers returns all registered members, oldest first.
func (m *Store) ListMembers(_ context.Context) ([]*cluster.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Member, 0, len(m.members))
	for _, mem := range m.members {
		cp := *mem
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadMembers removes and returns members last seen before cutoff.
func (m *Store) ReapDeadMembers(_ context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*cluster.Member
	for key, mem := range m.members {
		if mem.LastSeen.Before(cutoff) {
			dead = append(dead, mem)
			delete(m.members, key)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leader Store
// ──────────────────────────────────────────────────

// LockRole takes the lock of role for holder.
func (m *Store) LockRole(_ context.Context, role cluster.Role, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if l, ok := m.locks[role]; ok && l.holder != holder && l.until.After(now) {
		return false, nil
	}
	m.locks[role] = roleLock{holder: holder, until: now.Add(ttl)}
	return true, nil
}

// UnlockRole frees the lock of role if holder holds it.
func (m *Store) UnlockRole(_ context.Context, role cluster.Role, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[role]; ok && l.holder == holder {
		delete(m.locks, role)
	}
	return nil
}

// GetRoleOwner returns the register of role.
func (m *Store) GetRoleOwner(_ context.Context, role cluster.Role) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[role], nil
}

// SetRoleOwner writes the register of role.
func (m *Store) SetRoleOwner(_ context.Context, role cluster.Role, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner == "" {
		delete(m.owners, role)
		return nil
	}
	m.owners[role] = owner
	return nil
}
