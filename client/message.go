package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/api"
)

func secondsValue(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

// Put appends payload to name and returns its index. A positive
// initialInvisibility hides the message for that long, rounded down to
// whole seconds.
func (c *Client) Put(ctx context.Context, name string, payload []byte, initialInvisibility time.Duration) (uint64, error) {
	req := request{
		method:      http.MethodPost,
		path:        c.queuePath(name, "messages"),
		body:        payload,
		contentType: "application/octet-stream",
	}
	if initialInvisibility > 0 {
		req.query = url.Values{"initialInvisibilitySeconds": {secondsValue(initialInvisibility)}}
	}
	var out api.PutMessageResponse
	if _, err := c.do(ctx, req, &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

// Consume fetches the next message of name and hides it for visibility. It
// returns nil when nothing is deliverable.
func (c *Client) Consume(ctx context.Context, name string, visibility time.Duration) (*api.MessageResponse, error) {
	req := request{
		method: http.MethodGet,
		path:   c.queuePath(name, "messages", "next"),
		query:  url.Values{"invisibilityTimeSeconds": {secondsValue(visibility)}},
	}
	var out api.MessageResponse
	status, err := c.do(ctx, req, &out)
	if err != nil || status == http.StatusNoContent {
		return nil, err
	}
	return &out, nil
}

// Ack acknowledges the delivery named by popReceipt. A stale receipt fails
// with an error wrapping cassieq.ErrStaleReceipt.
func (c *Client) Ack(ctx context.Context, name, popReceipt string) error {
	req := request{
		method: http.MethodDelete,
		path:   c.queuePath(name, "messages"),
		query:  url.Values{"popReceipt": {popReceipt}},
	}
	_, err := c.do(ctx, req, nil)
	return err
}

// Update hides the delivery named by popReceipt for visibility and, when
// payload is not nil, replaces its body. It returns the new receipt.
func (c *Client) Update(ctx context.Context, name, popReceipt string, payload *string, visibility time.Duration) (string, error) {
	req, err := jsonRequest(http.MethodPut, c.queuePath(name, "messages"), api.UpdateMessageRequest{
		PopReceipt:              popReceipt,
		InvisibilityTimeSeconds: int(visibility / time.Second),
		Message:                 payload,
	})
	if err != nil {
		return "", err
	}
	var out api.UpdateMessageResponse
	if _, err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.PopReceipt, nil
}

// UpdateByTag replaces the body of the message at index if it still
// carries tag. It returns the new tag.
func (c *Client) UpdateByTag(ctx context.Context, name string, index uint64, tag string, payload []byte) (string, error) {
	req := request{
		method:      http.MethodPut,
		path:        c.queuePath(name, "messages", strconv.FormatUint(index, 10)),
		query:       url.Values{"tag": {tag}},
		body:        payload,
		contentType: "application/octet-stream",
	}
	var out api.UpdateByTagResponse
	if _, err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.MessageTag, nil
}
