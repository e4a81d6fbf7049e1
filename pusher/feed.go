package pusher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotConnected reports a command sent while the upstream socket is down.
var ErrNotConnected = errors.New("upstream feed not connected")

const redialDelay = 5 * time.Second

// Feed keeps the upstream connection alive, redialing with a fixed delay
// whenever it drops. Losing the feed never takes the process down; commands
// sent while disconnected fail with ErrNotConnected and the caller's retry
// cycle (the next channel activation) recovers.
type Feed struct {
	url string

	mu  sync.Mutex
	cur *Conn
}

func NewFeed(url string) *Feed {
	return &Feed{url: url}
}

// SendJSON forwards to the live connection, if any.
func (f *Feed) SendJSON(v interface{}) error {
	f.mu.Lock()
	c := f.cur
	f.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.SendJSON(v)
}

// Run dials and reads until ctx ends. onConnect fires after every successful
// dial (including reconnects) so the caller can replay subscriptions.
func (f *Feed) Run(ctx context.Context, handler func(Event), onConnect func()) {
	for {
		conn, err := Dial(ctx, f.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("upstream dial failed", slog.Any("err", err), slog.String("component", "pusher"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
				continue
			}
		}

		f.mu.Lock()
		f.cur = conn
		f.mu.Unlock()
		slog.Info("upstream feed connected", slog.String("url", f.url), slog.String("component", "pusher"))
		if onConnect != nil {
			onConnect()
		}

		err = conn.ReadLoop(ctx, handler)

		f.mu.Lock()
		f.cur = nil
		f.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("upstream feed lost, redialing", slog.Any("err", err), slog.String("component", "pusher"))
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}
