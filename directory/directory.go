// Package directory maintains the channel-name to chatroom-id mapping with a
// time-bounded cache so repeated joins do not hammer the metadata endpoint.
package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/kick-bridge/kickapi"
	"github.com/onnwee/kick-bridge/telemetry"
)

// ChannelResolver is the external metadata lookup. *kickapi.Client satisfies it.
type ChannelResolver interface {
	GetChannel(ctx context.Context, slug string) (*kickapi.Channel, error)
}

type entry struct {
	roomID  int64
	expires time.Time
}

// Directory caches forward (name→id) and reverse (id→name) mappings.
// Forward entries expire after the configured TTL and are re-resolved; reverse
// entries persist until replaced so already-subscribed rooms keep routing even
// when the forward entry has lapsed.
type Directory struct {
	api ChannelResolver
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	byName map[string]entry
	byID   map[int64]string
}

func New(api ChannelResolver, ttl time.Duration) *Directory {
	return &Directory{
		api:    api,
		ttl:    ttl,
		now:    time.Now,
		byName: make(map[string]entry),
		byID:   make(map[int64]string),
	}
}

// Resolve returns the chatroom id for a channel name, consulting the cache
// first and calling the metadata endpoint on a miss or expired entry.
func (d *Directory) Resolve(ctx context.Context, name string) (int64, error) {
	d.mu.Lock()
	if e, ok := d.byName[name]; ok && d.now().Before(e.expires) {
		d.mu.Unlock()
		return e.roomID, nil
	}
	d.mu.Unlock()

	var ch *kickapi.Channel
	var err error
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		ch, err = d.api.GetChannel(ctx, name)
	})
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.byName[name] = entry{roomID: ch.Chatroom.ID, expires: d.now().Add(d.ttl)}
	d.byID[ch.Chatroom.ID] = name
	d.mu.Unlock()

	slog.Debug("resolved channel", slog.String("channel", name), slog.Int64("room_id", ch.Chatroom.ID), slog.String("component", "directory"))
	return ch.Chatroom.ID, nil
}

// CachedID returns the last known room id for a channel regardless of expiry.
// Used when tearing down a subscription; it never triggers a network call.
func (d *Directory) CachedID(name string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byName[name]
	return e.roomID, ok
}

// NameForRoom maps an inbound event's room id back to a channel name.
func (d *Directory) NameForRoom(id int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.byID[id]
	return name, ok
}
