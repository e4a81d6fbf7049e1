// Package bridge wires the protocol server's channel notifications to the
// upstream subscription manager and routes inbound chat events back out to
// local clients. It holds no state of its own.
package bridge

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/onnwee/kick-bridge/pusher"
	"github.com/onnwee/kick-bridge/telemetry"
)

// Resolver is the channel directory view the bridge needs.
type Resolver interface {
	Resolve(ctx context.Context, name string) (int64, error)
	CachedID(name string) (int64, bool)
	NameForRoom(id int64) (string, bool)
}

// Subscriber manages upstream room subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID int64) error
	Unsubscribe(roomID int64) error
}

// FanOuter delivers a chat line to every member of a channel.
type FanOuter interface {
	FanOut(channel, sender, message string)
}

// Recorder archives relayed messages. May be nil when archiving is off.
type Recorder interface {
	Record(ctx context.Context, channel string, roomID int64, sender, message string)
}

type Bridge struct {
	ctx  context.Context
	dir  Resolver
	subs Subscriber
	irc  FanOuter
	rec  Recorder

	mu     sync.Mutex
	queues map[string][]func()
}

// New builds the router. ctx bounds the background resolve/subscribe work
// spawned for channel notifications.
func New(ctx context.Context, dir Resolver, subs Subscriber, irc FanOuter, rec Recorder) *Bridge {
	return &Bridge{ctx: ctx, dir: dir, subs: subs, irc: irc, rec: rec, queues: make(map[string][]func())}
}

// enqueue appends fn to name's work queue and starts a drain worker if none is
// running. One worker per channel keeps that channel's activate/empty actions
// in emission order while different channels proceed independently, so a slow
// resolve on one channel never delays another.
func (b *Bridge) enqueue(name string, fn func()) {
	b.mu.Lock()
	b.queues[name] = append(b.queues[name], fn)
	// A queue key exists exactly while its worker runs, so length one after
	// append means no worker.
	if len(b.queues[name]) == 1 {
		go b.drain(name)
	}
	b.mu.Unlock()
}

func (b *Bridge) drain(name string) {
	for {
		b.mu.Lock()
		fn := b.queues[name][0]
		b.mu.Unlock()

		fn()

		b.mu.Lock()
		rest := b.queues[name][1:]
		if len(rest) == 0 {
			delete(b.queues, name)
			b.mu.Unlock()
			return
		}
		b.queues[name] = rest
		b.mu.Unlock()
	}
}

// ChannelActive reacts to a channel gaining its first local member. The
// resolve and subscribe run on the channel's queue so the client that
// triggered them is never stalled and a preceding empty notification for the
// same channel always completes first; failures are logged and swallowed, and
// the next activation cycle retries.
func (b *Bridge) ChannelActive(name string) {
	b.enqueue(name, func() {
		roomID, err := b.dir.Resolve(b.ctx, name)
		if err != nil {
			if telemetry.ResolutionFailures != nil {
				telemetry.ResolutionFailures.Inc()
			}
			slog.Warn("channel resolution failed, upstream subscribe skipped", slog.String("channel", name), slog.Any("err", err), slog.String("component", "bridge"))
			return
		}
		if err := b.subs.Subscribe(b.ctx, roomID); err != nil {
			slog.Warn("subscribe failed", slog.String("channel", name), slog.Int64("room_id", roomID), slog.Any("err", err), slog.String("component", "bridge"))
		}
	})
}

// ChannelEmpty reacts to a channel losing its last member. The room id comes
// from the directory's cache, never a fresh lookup.
func (b *Bridge) ChannelEmpty(name string) {
	b.enqueue(name, func() {
		roomID, ok := b.dir.CachedID(name)
		if !ok {
			slog.Debug("emptied channel was never resolved, nothing to unsubscribe", slog.String("channel", name), slog.String("component", "bridge"))
			return
		}
		if err := b.subs.Unsubscribe(roomID); err != nil {
			slog.Warn("unsubscribe failed", slog.String("channel", name), slog.Int64("room_id", roomID), slog.Any("err", err), slog.String("component", "bridge"))
		}
	})
}

// HandleFeedEvent routes an upstream chat event to the members of the channel
// its room id maps to. Events for unknown rooms are dropped silently; that
// happens when another instance's events share the app, or after teardown.
func (b *Bridge) HandleFeedEvent(ev pusher.Event) {
	if ev.Event != pusher.EventChatMessage {
		return
	}
	msg, err := pusher.ParseChatMessage(ev.Data)
	if err != nil {
		if telemetry.MessagesDropped != nil {
			telemetry.MessagesDropped.Inc()
		}
		slog.Warn("unparseable chat payload dropped", slog.Any("err", err), slog.String("component", "bridge"))
		return
	}
	channel, ok := b.dir.NameForRoom(msg.ChatroomID)
	if !ok {
		if telemetry.MessagesDropped != nil {
			telemetry.MessagesDropped.Inc()
		}
		slog.Debug("chat event for unknown room dropped", slog.Int64("room_id", msg.ChatroomID), slog.String("component", "bridge"))
		return
	}

	content := RewriteEmotes(msg.Content)
	b.irc.FanOut(channel, msg.Sender.Username, content)
	if telemetry.MessagesRelayed != nil {
		telemetry.MessagesRelayed.Inc()
	}
	if b.rec != nil {
		b.rec.Record(b.ctx, channel, msg.ChatroomID, msg.Sender.Username, content)
	}
}

var emotePattern = regexp.MustCompile(`\[emote:\d+:(\w+)\]`)

// RewriteEmotes replaces embedded emote tokens with their plain-text name,
// e.g. "[emote:37221:KEKW]" -> "KEKW".
func RewriteEmotes(content string) string {
	return emotePattern.ReplaceAllString(content, "$1")
}
