package dlq

import (
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Entry represents a poison message reported by the repair worker.
type Entry struct {
	ID               id.DLQID   `json:"id"`
	Account          string     `json:"account"`
	Queue            string     `json:"queue"`
	Version          int        `json:"version"`
	Index            uint64     `json:"index"`
	Payload          []byte     `json:"payload"`
	DeliveryCount    int        `json:"delivery_count"`
	MaxDeliveryCount int        `json:"max_delivery_count"`
	Reason           string     `json:"reason"`
	FailedAt         time.Time  `json:"failed_at"`
	ReplayedAt       *time.Time `json:"replayed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// QueueID returns the queue version the message lived in.
func (e *Entry) QueueID() queue.ID {
	return queue.ID{Account: e.Account, Name: e.Queue, Version: e.Version}
}
