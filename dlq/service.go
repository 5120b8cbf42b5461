package dlq

import (
	"context"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/message"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a DLQ service. A nil now means time.Now in UTC.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, now: now}
}

// Push records m, given up on in the queue version def, with reason.
func (s *Service) Push(ctx context.Context, def *queue.Definition, m *message.Message, reason string) (*Entry, error) {
	now := s.now()
	entry := &Entry{
		ID:               id.NewDLQID(),
		Account:          def.Account,
		Queue:            def.Name,
		Version:          def.Version,
		Index:            m.Index,
		Payload:          m.Payload,
		DeliveryCount:    m.DeliveryCount,
		MaxDeliveryCount: def.MaxDeliveryCount,
		Reason:           reason,
		FailedAt:         now,
		CreatedAt:        now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DLQStore returns the underlying DLQ store for direct access to List,
// Get, Purge and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
