package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// ListDLQ returns poison reports of the client's account, oldest first.
// An empty queue name lists every queue.
func (c *Client) ListDLQ(ctx context.Context, queueName string, limit, offset int) ([]*dlq.Entry, error) {
	q := url.Values{"account": {c.account}}
	if queueName != "" {
		q.Set("queue", queueName)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out []*dlq.Entry
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/dlq", query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDLQ returns one poison report.
func (c *Client) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var out dlq.Entry
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/dlq/" + entryID.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReplayDLQ puts a poison report's payload back into its queue and returns
// the new index.
func (c *Client) ReplayDLQ(ctx context.Context, entryID id.DLQID) (uint64, error) {
	var out api.ReplayDLQResponse
	path := "/api/v1/dlq/" + entryID.String() + "/replay"
	if _, err := c.do(ctx, request{method: http.MethodPost, path: path}, &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

// CountDLQ returns the number of poison reports on the server.
func (c *Client) CountDLQ(ctx context.Context) (int64, error) {
	var out api.DLQCountResponse
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/dlq/count"}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// PurgeDLQ removes poison reports older than olderThan and returns how many
// were removed.
func (c *Client) PurgeDLQ(ctx context.Context, olderThan time.Duration) (int64, error) {
	req := request{
		method: http.MethodPost,
		path:   "/api/v1/dlq/purge",
		query:  url.Values{"olderThanSeconds": {secondsValue(olderThan)}},
	}
	var out api.PurgeDLQResponse
	if _, err := c.do(ctx, req, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}
