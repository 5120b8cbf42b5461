package api

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// CreateQueueRequest is the body of a create-queue call. Zero values take
// the engine defaults.
type CreateQueueRequest struct {
	QueueName                string `json:"queueName"`
	BucketSize               int    `json:"bucketSize,omitempty"`
	MaxDeliveryCount         int    `json:"maxDeliveryCount,omitempty"`
	RepairIntervalSeconds    int    `json:"repairIntervalSeconds,omitempty"`
	TombstoneGraceSeconds    int    `json:"tombstoneGraceSeconds,omitempty"`
	DeleteBucketsAfterRetire bool   `json:"deleteBucketsAfterRetire,omitempty"`
	DeadLetterQueue          string `json:"deadLetterQueue,omitempty"`
}

func (req *CreateQueueRequest) options() ([]queue.Option, error) {
	var opts []queue.Option
	if req.BucketSize != 0 {
		opts = append(opts, queue.WithBucketSize(req.BucketSize))
	}
	if req.MaxDeliveryCount != 0 {
		opts = append(opts, queue.WithMaxDeliveryCount(req.MaxDeliveryCount))
	}
	if req.RepairIntervalSeconds != 0 {
		d, err := seconds("repairIntervalSeconds", req.RepairIntervalSeconds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, queue.WithRepairInterval(d))
	}
	if req.TombstoneGraceSeconds != 0 {
		d, err := seconds("tombstoneGraceSeconds", req.TombstoneGraceSeconds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, queue.WithTombstoneGrace(d))
	}
	if req.DeleteBucketsAfterRetire {
		opts = append(opts, queue.WithDeleteBucketsAfterRetire())
	}
	if req.DeadLetterQueue != "" {
		opts = append(opts, queue.WithDeadLetterQueue(req.DeadLetterQueue))
	}
	return opts, nil
}

// QueueResponse describes one queue version.
type QueueResponse struct {
	Account                  string    `json:"account"`
	QueueName                string    `json:"queueName"`
	Version                  int       `json:"version"`
	Status                   string    `json:"status"`
	BucketSize               int       `json:"bucketSize"`
	MaxDeliveryCount         int       `json:"maxDeliveryCount"`
	RepairIntervalSeconds    int       `json:"repairIntervalSeconds"`
	TombstoneGraceSeconds    int       `json:"tombstoneGraceSeconds"`
	DeleteBucketsAfterRetire bool      `json:"deleteBucketsAfterRetire"`
	DeadLetterQueue          string    `json:"deadLetterQueue,omitempty"`
	CreatedAt                time.Time `json:"createdAt"`
}

func queueResponse(def *queue.Definition) QueueResponse {
	return QueueResponse{
		Account:                  def.Account,
		QueueName:                def.Name,
		Version:                  def.Version,
		Status:                   string(def.Status),
		BucketSize:               def.BucketSize,
		MaxDeliveryCount:         def.MaxDeliveryCount,
		RepairIntervalSeconds:    int(def.RepairInterval / time.Second),
		TombstoneGraceSeconds:    int(def.TombstoneGrace / time.Second),
		DeleteBucketsAfterRetire: def.DeleteBucketsAfterRetire,
		DeadLetterQueue:          def.DeadLetterQueue,
		CreatedAt:                def.CreatedAt,
	}
}

// QueueStatisticsResponse carries the size of a queue.
type QueueStatisticsResponse struct {
	Size int64 `json:"size"`
}

// RepairResponse reports one manual repair sweep.
type RepairResponse struct {
	Buckets  int `json:"buckets"`
	Requeued int `json:"requeued"`
	Poisoned int `json:"poisoned"`
	Retired  int `json:"retired"`
}

// PutMessageResponse carries the index a put was assigned.
type PutMessageResponse struct {
	Index uint64 `json:"index"`
}

// EncodingBase64 marks a message body that is not UTF-8 text and was
// sent base64 encoded.
const EncodingBase64 = "base64"

// MessageResponse is a delivered message. Text bodies are sent as is;
// other bodies are base64 encoded and carry Encoding.
type MessageResponse struct {
	Index         uint64 `json:"index"`
	Message       string `json:"message"`
	Encoding      string `json:"encoding,omitempty"`
	PopReceipt    string `json:"popReceipt"`
	MessageTag    string `json:"messageTag"`
	DeliveryCount int    `json:"deliveryCount"`
}

// Payload returns the message body as delivered.
func (m *MessageResponse) Payload() ([]byte, error) {
	if m.Encoding != EncodingBase64 {
		return []byte(m.Message), nil
	}
	b, err := base64.StdEncoding.DecodeString(m.Message)
	if err != nil {
		return nil, fmt.Errorf("cassieq/api: decode message %d: %w", m.Index, err)
	}
	return b, nil
}

// UpdateMessageRequest hides a delivered message again and optionally
// replaces its body.
type UpdateMessageRequest struct {
	PopReceipt              string  `json:"popReceipt"`
	InvisibilityTimeSeconds int     `json:"invisibilityTimeSeconds"`
	Message                 *string `json:"message,omitempty"`
}

// UpdateMessageResponse carries the receipt that replaces the old one.
type UpdateMessageResponse struct {
	PopReceipt string `json:"popReceipt"`
}

// UpdateByTagResponse carries the tag that replaces the old one.
type UpdateByTagResponse struct {
	MessageTag string `json:"messageTag"`
}

// ReplayDLQResponse carries the index the replayed payload was put at.
type ReplayDLQResponse struct {
	Index uint64 `json:"index"`
}

// PurgeDLQResponse carries how many entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse carries the number of DLQ entries.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// maxSeconds is the largest whole-seconds value a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

func seconds(field string, n int) (time.Duration, error) {
	if n < 0 || int64(n) > maxSeconds {
		return 0, fmt.Errorf("%w: %s must be between 0 and %d, got %d", ErrBadRequest, field, maxSeconds, n)
	}
	return time.Duration(n) * time.Second, nil
}
