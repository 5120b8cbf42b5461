// Package repair brings back work that consumers abandoned and retires
// buckets the reader has drained.
//
// The reader only hands out rows that were never delivered. When a
// consumer takes a row and neither acks nor extends it before its
// visibility runs out, the row is "abandoned": the repair worker appends a
// copy at a fresh index, carrying over the delivery count, and tombstones
// the original with a version-gated ack. If the consumer acted in the
// meantime the ack loses and the copy is withdrawn. Rows that have used up
// their queue's delivery budget are poison: they are tombstoned and
// reported to the DLQ instead.
//
// A bucket behind the reader whose tombstone marker is older than the
// queue's grace period and whose rows are all tombstoned is retired: the
// repair pointer moves past it and the invisibility watermark follows.
//
// One sweep visits at most the lookahead number of buckets. The bucket at
// the repair pointer is always visited; the rest of the budget continues
// where the previous sweep of the same version stopped.
//
// A sweep only writes while its version is still active. The definition
// is read again before every requeue, so a version that started deleting
// mid-sweep gets no new rows.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/monoton"
	"github.com/paradoxical-io/cassieq-sub001/pointer"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// ReasonMaxDeliveries is the DLQ reason recorded for poison messages.
const ReasonMaxDeliveries = "max delivery count exceeded"

// Emitter receives repair lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitMessageRequeued(ctx context.Context, q queue.ID, from *message.Message, toIndex uint64)
	EmitPoisonMessage(ctx context.Context, q queue.ID, m *message.Message, entry *dlq.Entry)
	EmitBucketRetired(ctx context.Context, q queue.ID, bucket uint64)
}

// Result summarises one sweep.
type Result struct {
	Buckets  int
	Requeued int
	Poisoned int
	Retired  int
}

// DefaultLookahead is the per-sweep bucket budget when none is set.
const DefaultLookahead = 32

// Worker sweeps queue versions.
type Worker struct {
	messages  *message.Service
	pointers  *pointer.Pointers
	counter   *monoton.Allocator
	defs      queue.Store
	dlq       *dlq.Service
	forward   dlq.Publisher
	emitter   Emitter
	lookahead int
	logger    *slog.Logger

	mu     sync.Mutex
	resume map[queue.ID]uint64
}

// Option configures a Worker.
type Option func(*Worker)

// WithDLQ sets where poison messages are recorded.
func WithDLQ(s *dlq.Service) Option {
	return func(w *Worker) { w.dlq = s }
}

// WithForwarder sets the publisher used for queues that name a dead
// letter queue.
func WithForwarder(p dlq.Publisher) Option {
	return func(w *Worker) { w.forward = p }
}

// WithDefinitions sets the store the worker re-reads definitions from.
// Without it a sweep trusts the definition it was handed.
func WithDefinitions(defs queue.Store) Option {
	return func(w *Worker) { w.defs = defs }
}

// WithLookahead sets how many buckets one sweep may visit.
func WithLookahead(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.lookahead = n
		}
	}
}

// WithEmitter sets the lifecycle event receiver.
func WithEmitter(e Emitter) Option {
	return func(w *Worker) { w.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a Worker.
func New(messages *message.Service, pointers *pointer.Pointers, counter *monoton.Allocator, opts ...Option) *Worker {
	w := &Worker{
		messages:  messages,
		pointers:  pointers,
		counter:   counter,
		lookahead: DefaultLookahead,
		logger:    slog.Default(),
		resume:    make(map[queue.ID]uint64),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// sweep carries the state of one pass over a queue version.
type sweep struct {
	def    *queue.Definition
	q      queue.ID
	now    time.Time
	repair uint64
	reader uint64
	// lowest index still hidden by a live delivery, if any
	inFlight    uint64
	hasInFlight bool
	// set once the version is seen leaving the active state
	stopped bool
	res     Result
}

// Sweep runs one repair pass over def. A version that is no longer
// active is left alone.
func (w *Worker) Sweep(ctx context.Context, def *queue.Definition) (Result, error) {
	s := &sweep{def: def, q: def.ID(), now: w.messages.Now()}

	active, err := w.stillActive(ctx, s.q)
	if err != nil || !active {
		return s.res, err
	}

	if s.repair, err = w.pointers.Bucket(ctx, s.q, pointer.Repair); err != nil {
		return s.res, fmt.Errorf("cassieq/repair: sweep %s: %w", s.q, err)
	}
	if s.reader, err = w.pointers.Bucket(ctx, s.q, pointer.Reader); err != nil {
		return s.res, fmt.Errorf("cassieq/repair: sweep %s: %w", s.q, err)
	}
	watermark, err := w.pointers.Invisibility(ctx, s.q)
	if err != nil {
		return s.res, fmt.Errorf("cassieq/repair: sweep %s: %w", s.q, err)
	}

	start := s.repair
	if wb := def.BucketOf(watermark); wb < start {
		start = wb
	}

	if err := w.sweepBucket(ctx, s, start); err != nil {
		return s.res, fmt.Errorf("cassieq/repair: sweep %s#%d: %w", s.q, start, err)
	}
	s.res.Buckets++

	// Buckets after start are visited from the resume point, so a pinned
	// repair pointer does not make every sweep walk the whole backlog.
	from := max(start+1, w.resumePoint(s.q))
	partial := from > start+1
	b := from
	for ; b <= s.reader && !s.stopped; b++ {
		if s.res.Buckets >= w.lookahead {
			partial = true
			break
		}
		if err := w.sweepBucket(ctx, s, b); err != nil {
			return s.res, fmt.Errorf("cassieq/repair: sweep %s#%d: %w", s.q, b, err)
		}
		s.res.Buckets++
	}
	if b <= s.reader && !s.stopped {
		w.setResumePoint(s.q, b)
	} else {
		w.setResumePoint(s.q, 0)
	}
	if s.stopped {
		return s.res, nil
	}

	// Rows in buckets this sweep skipped were not seen, so a partial sweep
	// may only lower the watermark.
	proposed := def.BucketStart(s.repair)
	if s.hasInFlight && s.inFlight < proposed {
		proposed = s.inFlight
	}
	if proposed != watermark && (!partial || proposed < watermark) {
		if _, err := w.pointers.MoveInvisibility(ctx, s.q, watermark, proposed); err != nil {
			return s.res, fmt.Errorf("cassieq/repair: sweep %s: %w", s.q, err)
		}
	}

	if s.res.Requeued > 0 || s.res.Poisoned > 0 || s.res.Retired > 0 {
		w.logger.Info("repair sweep",
			slog.String("queue", s.q.String()),
			slog.Int("requeued", s.res.Requeued),
			slog.Int("poisoned", s.res.Poisoned),
			slog.Int("retired", s.res.Retired),
			slog.Uint64("repair_bucket", s.repair),
			slog.Uint64("reader_bucket", s.reader),
		)
	}
	return s.res, nil
}

func (w *Worker) resumePoint(q queue.ID) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resume[q]
}

// setResumePoint records where the next sweep of q continues; zero means
// from the start.
func (w *Worker) setResumePoint(q queue.ID, b uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b == 0 {
		delete(w.resume, q)
		return
	}
	w.resume[q] = b
}

// stillActive re-reads the definition of q. A version that is gone counts
// as inactive.
func (w *Worker) stillActive(ctx context.Context, q queue.ID) (bool, error) {
	if w.defs == nil {
		return true, nil
	}
	def, err := w.defs.GetDefinition(ctx, q)
	if errors.Is(err, cassieq.ErrQueueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cassieq/repair: definition %s: %w", q, err)
	}
	return def.Status == queue.StatusActive, nil
}

func (w *Worker) sweepBucket(ctx context.Context, s *sweep, number uint64) error {
	b := message.Bucket{Number: number, Size: s.def.BucketSize}
	behindReader := number < s.reader

	// Stranded rows may only be taken once the reader has been gone for
	// the grace period.
	var marker *time.Time
	graceElapsed := false
	if behindReader {
		var err error
		if marker, err = w.messages.TombstoneExists(ctx, s.q, number); err != nil {
			return err
		}
		if marker == nil {
			// The reader advanced without leaving a marker.
			if err := w.messages.TombstoneBucket(ctx, s.q, number); err != nil {
				return err
			}
		} else {
			graceElapsed = s.now.Sub(*marker) >= s.def.TombstoneGrace
		}
	}

	rows, err := w.messages.GetBucketContents(ctx, s.q, b)
	if err != nil {
		return err
	}

	live := 0
	for _, row := range rows {
		if s.stopped {
			return nil
		}
		if row.Tombstoned {
			continue
		}
		done, err := w.repairRow(ctx, s, row, behindReader && graceElapsed)
		if err != nil {
			return err
		}
		if !done {
			live++
		}
	}

	if number != s.repair || live > 0 {
		return nil
	}

	switch {
	case behindReader && graceElapsed:
		return w.retire(ctx, s, b)
	case number == s.reader:
		return w.catchUp(ctx, s, b)
	}
	return nil
}

// repairRow handles one non-tombstoned row and reports whether the row is
// now tombstoned.
func (w *Worker) repairRow(ctx context.Context, s *sweep, row *message.Message, stranded bool) (bool, error) {
	switch {
	case row.Abandoned(s.now):
		if row.DeliveryCount >= s.def.MaxDeliveryCount {
			return w.poison(ctx, s, row)
		}
		return w.requeue(ctx, s, row)

	case row.Delivered():
		if !s.hasInFlight || row.Index < s.inFlight {
			s.inFlight, s.hasInFlight = row.Index, true
		}
		return false, nil

	case stranded && row.Visible(s.now):
		return w.requeue(ctx, s, row)
	}
	return false, nil
}

// requeue appends a copy of row at a new index and tombstones row. The
// copy keeps the delivery count so the next delivery counts one more.
func (w *Worker) requeue(ctx context.Context, s *sweep, row *message.Message) (bool, error) {
	active, err := w.stillActive(ctx, s.q)
	if err != nil {
		return false, err
	}
	if !active {
		s.stopped = true
		return false, nil
	}

	idx, err := w.counter.Next(ctx, s.q)
	if err != nil {
		return false, err
	}
	if _, err := w.messages.Put(ctx, s.def, idx, row.Payload, 0, row.DeliveryCount); err != nil {
		return false, err
	}

	// The deletion job may have finished between the check and the put.
	if active, err = w.stillActive(ctx, s.q); err != nil {
		return false, err
	}
	if !active {
		s.stopped = true
		return false, w.discard(ctx, s, idx)
	}

	ok, err := w.messages.Ack(ctx, s.q, row.Index, row.Version)
	if err != nil {
		return false, err
	}
	if !ok {
		// The consumer acked or extended the row first.
		withdrawn, err := w.messages.Ack(ctx, s.q, idx, 0)
		if err != nil {
			return false, err
		}
		if !withdrawn {
			w.logger.Warn("requeued copy already delivered",
				slog.String("queue", s.q.String()),
				slog.Uint64("index", row.Index),
				slog.Uint64("copy", idx),
			)
		}
		return false, nil
	}

	s.res.Requeued++
	if w.emitter != nil {
		w.emitter.EmitMessageRequeued(ctx, s.q, row, idx)
	}
	return true, nil
}

// discard erases a copy written into a version that stopped being active.
// Once the version is deleted nothing else writes to it, so the counter
// goes back to zero as well.
func (w *Worker) discard(ctx context.Context, s *sweep, idx uint64) error {
	if err := w.messages.DeleteAll(ctx, s.q, message.Bucket{Number: s.def.BucketOf(idx), Size: s.def.BucketSize}); err != nil {
		return err
	}
	if w.defs == nil {
		return nil
	}
	def, err := w.defs.GetDefinition(ctx, s.q)
	if err != nil || def.Status != queue.StatusDeleted {
		return nil
	}
	w.logger.Warn("discarded requeue into deleted version",
		slog.String("queue", s.q.String()),
		slog.Uint64("copy", idx),
	)
	return w.counter.Reset(ctx, s.q)
}

func (w *Worker) poison(ctx context.Context, s *sweep, row *message.Message) (bool, error) {
	ok, err := w.messages.Ack(ctx, s.q, row.Index, row.Version)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	s.res.Poisoned++

	w.logger.Warn("poison message",
		slog.String("queue", s.q.String()),
		slog.Uint64("index", row.Index),
		slog.Int("delivery_count", row.DeliveryCount),
		slog.Int("max_delivery_count", s.def.MaxDeliveryCount),
	)

	var entry *dlq.Entry
	if w.dlq != nil {
		if entry, err = w.dlq.Push(ctx, s.def, row, ReasonMaxDeliveries); err != nil {
			return true, fmt.Errorf("dlq push @%d: %w", row.Index, err)
		}
	}

	if s.def.DeadLetterQueue != "" && w.forward != nil {
		ref := queue.Ref{Account: s.def.Account, Name: s.def.DeadLetterQueue}
		if _, err := w.forward.Put(ctx, ref, row.Payload, 0); err != nil {
			w.logger.Error("forward to dead letter queue failed",
				slog.String("queue", s.q.String()),
				slog.String("dead_letter_queue", ref.String()),
				slog.Uint64("index", row.Index),
				slog.String("error", err.Error()),
			)
		}
	}

	if w.emitter != nil {
		w.emitter.EmitPoisonMessage(ctx, s.q, row, entry)
	}
	return true, nil
}

func (w *Worker) retire(ctx context.Context, s *sweep, b message.Bucket) error {
	next, err := w.pointers.AdvanceBucket(ctx, s.q, pointer.Repair, b.Number, b.Number+1)
	if err != nil {
		return err
	}
	s.repair = next
	if next != b.Number+1 {
		// Another worker retired it.
		return nil
	}
	s.res.Retired++

	if s.def.DeleteBucketsAfterRetire {
		if err := w.messages.DeleteAll(ctx, s.q, b); err != nil {
			return err
		}
	}
	if w.emitter != nil {
		w.emitter.EmitBucketRetired(ctx, s.q, b.Number)
	}
	return nil
}

// catchUp moves the reader past a sealed, drained bucket that consumers
// have not come back to.
func (w *Worker) catchUp(ctx context.Context, s *sweep, b message.Bucket) error {
	cur, err := w.counter.Current(ctx, s.q)
	if err != nil {
		return err
	}
	if cur < b.End() {
		return nil
	}
	if err := w.messages.TombstoneBucket(ctx, s.q, b.Number); err != nil {
		return err
	}
	next, err := w.pointers.AdvanceBucket(ctx, s.q, pointer.Reader, b.Number, b.Number+1)
	if err != nil {
		return err
	}
	s.reader = next
	return nil
}
