// Package message defines message rows, pop receipts and the message
// store contract, plus a Service that layers creation identities, tags
// and the clock on top of a Store.
//
// A row's Version starts at 0 and increases on every consume and every
// visibility update, which invalidates all previously issued pop
// receipts. A row that was never delivered (Version 0) is "fresh"; the
// reader only hands out fresh rows, and delivered rows whose visibility
// ran out are brought back by the repair worker.
package message

import (
	"time"

	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Message is one row of a queue version.
type Message struct {
	Index          uint64       `json:"index"`
	Bucket         uint64       `json:"bucket"`
	Version        int          `json:"version"`
	Payload        []byte       `json:"payload"`
	DeliveryCount  int          `json:"delivery_count"`
	InvisibleUntil *time.Time   `json:"invisible_until,omitempty"`
	Tag            string       `json:"tag"`
	Tombstoned     bool         `json:"tombstoned"`
	CreatedBy      id.MessageID `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Visible reports whether the row may be consumed at now.
func (m *Message) Visible(now time.Time) bool {
	if m.Tombstoned {
		return false
	}
	return m.InvisibleUntil == nil || !m.InvisibleUntil.After(now)
}

// Delivered reports whether the row has been consumed at least once.
func (m *Message) Delivered() bool { return m.Version > 0 }

// Claimable reports whether the reader may hand the row out at now: it is
// fresh and visible.
func (m *Message) Claimable(now time.Time) bool {
	return !m.Delivered() && m.Visible(now)
}

// Abandoned reports whether a delivery of the row ran out of visibility
// without being acknowledged.
func (m *Message) Abandoned(now time.Time) bool {
	return m.Delivered() && m.Visible(now)
}

// Receipt returns the pop receipt for the row's current version.
func (m *Message) Receipt() PopReceipt { return EncodeReceipt(m.Index, m.Version) }

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	if m.InvisibleUntil != nil {
		t := *m.InvisibleUntil
		cp.InvisibleUntil = &t
	}
	return &cp
}

// Bucket is a contiguous range of Size indices starting at Number*Size.
type Bucket struct {
	Number uint64
	Size   int
}

// Start is the first index in the bucket.
func (b Bucket) Start() uint64 { return b.Number * uint64(b.Size) }

// End is one past the last index in the bucket.
func (b Bucket) End() uint64 { return (b.Number + 1) * uint64(b.Size) }

// Contains reports whether index falls in the bucket.
func (b Bucket) Contains(index uint64) bool {
	return index >= b.Start() && index < b.End()
}

// Live filters out tombstoned rows.
func Live(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Tombstoned {
			out = append(out, m)
		}
	}
	return out
}
