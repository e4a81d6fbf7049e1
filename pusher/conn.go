package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps the upstream websocket. Writes are serialized behind a mutex
// since gorilla/websocket allows only one concurrent writer.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

// Dial connects to the Pusher endpoint.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial upstream feed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close handshake body", slog.Any("err", cerr))
		}
	}
	return &Conn{ws: ws}, nil
}

// SendJSON marshals v and writes it as a single text frame.
func (c *Conn) SendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// ReadLoop decodes inbound frames and hands each event to handler until the
// connection errors or ctx is cancelled. Events are dispatched one at a time,
// so handlers observe a serialized stream.
func (c *Conn) ReadLoop(ctx context.Context, handler func(Event)) error {
	// Unblock the pending read when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("upstream read: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			slog.Warn("unparseable upstream frame", slog.Any("err", err), slog.String("component", "pusher"))
			continue
		}
		handler(ev)
	}
}

// Close tears down the websocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}
