package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/paradoxical-io/cassieq-sub001/api"
)

// SubscribeOpts tunes a polling subscription.
type SubscribeOpts struct {
	// Visibility hides each delivered message for this long. Zero means
	// 30 seconds.
	Visibility time.Duration

	// IdleWait is the pause after an empty poll or a failed one. Zero
	// means one second.
	IdleWait time.Duration

	// Buffer is the channel capacity.
	Buffer int
}

// Subscribe polls name and sends every delivered message on the returned
// channel. The channel is closed when ctx is done. Callers acknowledge
// each message with Ack before its visibility runs out.
func (c *Client) Subscribe(ctx context.Context, name string, opts SubscribeOpts) <-chan *api.MessageResponse {
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = time.Second
	}

	ch := make(chan *api.MessageResponse, opts.Buffer)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			msg, err := c.Consume(ctx, name, opts.Visibility)
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("cassieq/client: poll failed",
					slog.String("queue", name),
					slog.String("error", err.Error()),
				)
			}
			if msg == nil {
				if c.clock.Sleep(ctx, opts.IdleWait) != nil {
					return
				}
				continue
			}

			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
