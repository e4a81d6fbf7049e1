package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/kick-bridge/pusher"
)

type fakeResolver struct {
	mu       sync.Mutex
	forward  map[string]int64
	reverse  map[int64]string
	err      error
	resolves int
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return 0, f.err
	}
	id, ok := f.forward[name]
	if !ok {
		return 0, errors.New("unknown channel")
	}
	return id, nil
}

func (f *fakeResolver) CachedID(name string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.forward[name]
	return id, ok
}

func (f *fakeResolver) NameForRoom(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.reverse[id]
	return name, ok
}

type fakeSubs struct {
	mu           sync.Mutex
	subscribed   []int64
	unsubscribed []int64
	ops          []string
	subErr       error
}

func (f *fakeSubs) Subscribe(ctx context.Context, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, roomID)
	f.ops = append(f.ops, fmt.Sprintf("sub %d", roomID))
	return f.subErr
}

func (f *fakeSubs) Unsubscribe(roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, roomID)
	f.ops = append(f.ops, fmt.Sprintf("unsub %d", roomID))
	return nil
}

type delivery struct {
	channel, sender, message string
}

type fakeFanOuter struct {
	mu    sync.Mutex
	lines []delivery
}

func (f *fakeFanOuter) FanOut(channel, sender, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, delivery{channel, sender, message})
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []delivery
}

func (f *fakeRecorder) Record(ctx context.Context, channel string, roomID int64, sender, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, delivery{channel, sender, message})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestChannelActiveSubscribes(t *testing.T) {
	dir := &fakeResolver{forward: map[string]int64{"xqc": 668}, reverse: map[int64]string{668: "xqc"}}
	subs := &fakeSubs{}
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	b.ChannelActive("xqc")
	waitFor(t, "subscribe", func() bool {
		subs.mu.Lock()
		defer subs.mu.Unlock()
		return len(subs.subscribed) == 1
	})

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if subs.subscribed[0] != 668 {
		t.Errorf("subscribed to %d, want 668", subs.subscribed[0])
	}
}

func TestChannelActiveResolutionFailureSwallowed(t *testing.T) {
	dir := &fakeResolver{err: errors.New("api down")}
	subs := &fakeSubs{}
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	b.ChannelActive("xqc")
	waitFor(t, "resolve attempt", func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.resolves == 1
	})

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if len(subs.subscribed) != 0 {
		t.Error("failed resolution must skip subscribe")
	}
}

func TestChannelEmptyUnsubscribesFromCache(t *testing.T) {
	dir := &fakeResolver{forward: map[string]int64{"xqc": 668}}
	subs := &fakeSubs{}
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	b.ChannelEmpty("xqc")
	waitFor(t, "unsubscribe", func() bool {
		subs.mu.Lock()
		defer subs.mu.Unlock()
		return len(subs.unsubscribed) == 1
	})

	dir.mu.Lock()
	resolves := dir.resolves
	dir.mu.Unlock()
	if resolves != 0 {
		t.Error("ChannelEmpty must not re-fetch from the metadata endpoint")
	}
}

func TestChannelEmptyUnknownChannelNoop(t *testing.T) {
	dir := &fakeResolver{forward: map[string]int64{}}
	subs := &fakeSubs{}
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	b.ChannelEmpty("neverresolved")
	time.Sleep(20 * time.Millisecond)

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if len(subs.unsubscribed) != 0 {
		t.Error("never-resolved channel must not produce an unsubscribe")
	}
}

// A channel's empty and activate actions must run in the order they were
// emitted. If the rejoin's subscribe overtook the earlier unsubscribe, the
// unsubscribe would land last and a channel with members would stop receiving.
func TestEmptyThenActiveKeepsOrder(t *testing.T) {
	dir := &fakeResolver{forward: map[string]int64{"xqc": 668}, reverse: map[int64]string{668: "xqc"}}
	subs := &fakeSubs{}
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	const cycles = 100
	for i := 0; i < cycles; i++ {
		b.ChannelEmpty("xqc")
		b.ChannelActive("xqc")
	}
	waitFor(t, "all notifications processed", func() bool {
		subs.mu.Lock()
		defer subs.mu.Unlock()
		return len(subs.ops) == 2*cycles
	})

	subs.mu.Lock()
	defer subs.mu.Unlock()
	for i := 0; i < cycles; i++ {
		if subs.ops[2*i] != "unsub 668" || subs.ops[2*i+1] != "sub 668" {
			t.Fatalf("ops[%d:%d] = %v, want [unsub 668 sub 668]", 2*i, 2*i+2, subs.ops[2*i:2*i+2])
		}
	}
}

type stallingSubs struct {
	fakeSubs
	stallRoom int64
	release   chan struct{}
}

func (f *stallingSubs) Subscribe(ctx context.Context, roomID int64) error {
	if roomID == f.stallRoom {
		<-f.release
	}
	return f.fakeSubs.Subscribe(ctx, roomID)
}

// Ordering is per channel only; a stalled subscribe on one channel must not
// hold up another channel's activation.
func TestSlowChannelDoesNotBlockOthers(t *testing.T) {
	dir := &fakeResolver{forward: map[string]int64{"slow": 1, "fast": 2}}
	subs := &stallingSubs{stallRoom: 1, release: make(chan struct{})}
	defer close(subs.release)
	b := New(context.Background(), dir, subs, &fakeFanOuter{}, nil)

	b.ChannelActive("slow")
	b.ChannelActive("fast")

	waitFor(t, "fast channel subscribed", func() bool {
		subs.mu.Lock()
		defer subs.mu.Unlock()
		return len(subs.subscribed) == 1 && subs.subscribed[0] == 2
	})
}

func TestHandleFeedEventFansOut(t *testing.T) {
	dir := &fakeResolver{reverse: map[int64]string{668: "xqc"}}
	out := &fakeFanOuter{}
	rec := &fakeRecorder{}
	b := New(context.Background(), dir, &fakeSubs{}, out, rec)

	b.HandleFeedEvent(pusher.Event{
		Event:   pusher.EventChatMessage,
		Data:    `{"chatroom_id":668,"content":"hi chat [emote:37221:KEKW]","sender":{"username":"viewer1"}}`,
		Channel: "chatrooms.668.v2",
	})

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 1 {
		t.Fatalf("fanned out %d lines, want 1", len(out.lines))
	}
	got := out.lines[0]
	if got.channel != "xqc" || got.sender != "viewer1" || got.message != "hi chat KEKW" {
		t.Errorf("delivery = %+v", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 1 || rec.records[0].message != "hi chat KEKW" {
		t.Errorf("recorder got %+v, want the rewritten message", rec.records)
	}
}

func TestHandleFeedEventUnknownRoomDropped(t *testing.T) {
	dir := &fakeResolver{reverse: map[int64]string{}}
	out := &fakeFanOuter{}
	b := New(context.Background(), dir, &fakeSubs{}, out, nil)

	b.HandleFeedEvent(pusher.Event{
		Event: pusher.EventChatMessage,
		Data:  `{"chatroom_id":999,"content":"void","sender":{"username":"ghost"}}`,
	})

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 0 {
		t.Error("events for unknown rooms must be dropped")
	}
}

func TestHandleFeedEventIgnoresOtherEvents(t *testing.T) {
	dir := &fakeResolver{reverse: map[int64]string{668: "xqc"}}
	out := &fakeFanOuter{}
	b := New(context.Background(), dir, &fakeSubs{}, out, nil)

	b.HandleFeedEvent(pusher.Event{Event: pusher.EventSubscriptionSucceeded, Data: "{}", Channel: "chatrooms.668.v2"})
	b.HandleFeedEvent(pusher.Event{Event: pusher.EventChatMessage, Data: "garbage"})

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 0 {
		t.Errorf("unexpected deliveries %+v", out.lines)
	}
}

func TestRewriteEmotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"[emote:37221:KEKW]", "KEKW"},
		{"hi [emote:1:Pog] bye [emote:2:LULW]", "hi Pog bye LULW"},
		{"no emotes here", "no emotes here"},
		{"[emote:notanum:Pog]", "[emote:notanum:Pog]"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RewriteEmotes(tt.in); got != tt.want {
			t.Errorf("RewriteEmotes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
