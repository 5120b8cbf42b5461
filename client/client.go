// Package client provides a Go client for a remote cassieq server speaking
// the HTTP API in package api.
//
// Usage:
//
//	c := client.New("http://localhost:8080", "acme",
//	    client.WithRetry(5, 100*time.Millisecond),
//	)
//
//	// Create a queue and put a message.
//	_, err := c.CreateQueue(ctx, api.CreateQueueRequest{QueueName: "orders"})
//	index, err := c.Put(ctx, "orders", []byte("hello"), 0)
//
//	// Consume and acknowledge.
//	msg, err := c.Consume(ctx, "orders", 30*time.Second)
//	if msg != nil {
//	    err = c.Ack(ctx, "orders", msg.PopReceipt)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/backoff"
	"github.com/paradoxical-io/cassieq-sub001/clock"
)

// Client talks to one account of a cassieq server.
type Client struct {
	baseURL string
	account string
	http    *http.Client
	logger  *slog.Logger
	clock   clock.Clock

	// Retries of throttled and unavailable responses.
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for account on the server at baseURL.
func New(baseURL, account string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		account:   account,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
		clock:     clock.System{},
		baseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account returns the account the client is bound to.
func (c *Client) Account() string { return c.account }

// StatusError is a non-2xx reply whose code has no matching cassieq error.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cassieq/client: status %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *Client) queuePath(name string, parts ...string) string {
	p := "/api/v1/accounts/" + url.PathEscape(c.account) + "/queues"
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// request is one HTTP exchange.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(method, path string, v any) (request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("cassieq/client: marshal request: %w", err)
	}
	return request{method: method, path: path, body: body, contentType: "application/json"}, nil
}

// do sends req and decodes a 2xx JSON reply into out when out is not nil.
// It returns the reply status. Throttled and unavailable replies are
// retried within the client's retry budget.
func (c *Client) do(ctx context.Context, req request, out any) (int, error) {
	if c.maxRetries == 0 {
		return c.once(ctx, req, out)
	}

	var status int
	policy := backoff.Policy{
		Strategy:   backoff.NewExponentialWithJitter(c.baseDelay, 10*c.baseDelay),
		MaxRetries: c.maxRetries,
		Clock:      c.clock,
	}
	err := backoff.Retry(ctx, policy, func(ctx context.Context) error {
		var err error
		status, err = c.once(ctx, req, out)
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	})
	return status, err
}

func (c *Client) once(ctx context.Context, req request, out any) (int, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return 0, fmt.Errorf("cassieq/client: build request: %w", err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("cassieq/client: request failed",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("cassieq/client: %s %s: %w: %w", req.method, req.path, cassieq.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("cassieq/client: decode reply: %w", err)
	}
	return resp.StatusCode, nil
}

// decodeError turns an error reply into the matching cassieq error.
func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		body.Error = http.StatusText(resp.StatusCode)
	}
	if sentinel := api.ErrorForCode(body.Code); sentinel != nil {
		return fmt.Errorf("cassieq/client: %s: %w", body.Error, sentinel)
	}
	return &StatusError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

func retryable(err error) bool {
	return errors.Is(err, cassieq.ErrThrottled) || errors.Is(err, cassieq.ErrTransient)
}
