package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// CreateQueue creates a new active version of req.QueueName.
func (c *Client) CreateQueue(ctx context.Context, req api.CreateQueueRequest) (*api.QueueResponse, error) {
	r, err := jsonRequest(http.MethodPost, c.queuePath(""), req)
	if err != nil {
		return nil, err
	}
	var out api.QueueResponse
	if _, err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQueue returns the active version of name.
func (c *Client) GetQueue(ctx context.Context, name string) (*api.QueueResponse, error) {
	var out api.QueueResponse
	if _, err := c.do(ctx, request{method: http.MethodGet, path: c.queuePath(name)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListQueues returns the account's queue versions in status, or all of
// them for "".
func (c *Client) ListQueues(ctx context.Context, status queue.Status) ([]api.QueueResponse, error) {
	req := request{method: http.MethodGet, path: c.queuePath("")}
	if status != "" {
		req.query = url.Values{"status": {string(status)}}
	}
	var out []api.QueueResponse
	if _, err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteQueue marks the active version of name deleting. The server erases
// its messages in the background.
func (c *Client) DeleteQueue(ctx context.Context, name string) (*api.QueueResponse, error) {
	var out api.QueueResponse
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: c.queuePath(name)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueueSize counts the unacknowledged messages of name.
func (c *Client) QueueSize(ctx context.Context, name string) (int64, error) {
	var out api.QueueStatisticsResponse
	if _, err := c.do(ctx, request{method: http.MethodGet, path: c.queuePath(name, "statistics")}, &out); err != nil {
		return 0, err
	}
	return out.Size, nil
}

// RepairQueue asks the server to run one repair sweep over name now.
func (c *Client) RepairQueue(ctx context.Context, name string) (*api.RepairResponse, error) {
	var out api.RepairResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: c.queuePath(name, "repair")}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
