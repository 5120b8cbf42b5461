package dlq

import (
	"context"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Publisher puts a payload into the active version of a queue.
type Publisher interface {
	Put(ctx context.Context, ref queue.Ref, payload []byte, initialInvisibility time.Duration) (uint64, error)
}

// Replay puts the entry's payload back into the active version of its
// queue as a fresh message and marks the entry as replayed. The queue may
// have been recreated since; the payload goes to whatever version is
// active now.
func (s *Service) Replay(ctx context.Context, pub Publisher, entryID id.DLQID) (uint64, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return 0, err
	}

	index, err := pub.Put(ctx, entry.QueueID().Ref(), entry.Payload, 0)
	if err != nil {
		return 0, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID, s.now()); err != nil {
		// The message is already back in the queue.
		return index, err
	}
	return index, nil
}
