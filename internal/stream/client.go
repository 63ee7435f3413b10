package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/flowscope/flowscope/pkg/schema"
)

// Client is a caller-owned handle on a run's execution event stream over
// WebSocket. Lifecycle is explicit: Open dials, Events delivers decoded
// events in arrival order until the connection drops, Close tears down.
// The client never reconnects on its own; retry and backoff are the
// caller's policy, and so is clearing any derived state after a drop.
type Client struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	events    chan schema.ExecutionEvent
	connected atomic.Bool
	closeOnce sync.Once
}

// Open dials the event stream endpoint and starts decoding frames.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStream, "dial event stream: %s", err.Error()).WithCause(err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		events: make(chan schema.ExecutionEvent, defaultChannelBuffer),
	}
	c.connected.Store(true)

	go c.readLoop()
	return c, nil
}

// Events returns the channel of decoded execution events. The channel is
// closed when the connection drops or Close is called.
func (c *Client) Events() <-chan schema.ExecutionEvent {
	return c.events
}

// Connected reports whether the underlying connection is still up.
// A disconnect is not an error; it simply flips this flag and closes the
// event channel.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err = c.conn.Close()
	})
	return err
}

// readLoop decodes one JSON event per message until the connection fails.
func (c *Client) readLoop() {
	defer close(c.events)
	defer c.connected.Store(false)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev schema.ExecutionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// A malformed frame is logged and skipped; the stream itself
			// stays up.
			if c.logger != nil {
				c.logger.Warn("dropping malformed event frame", slog.String("error", err.Error()))
			}
			continue
		}
		c.events <- ev
	}
}
