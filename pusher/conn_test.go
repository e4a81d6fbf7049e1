package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// newWSServer runs handler for each upgraded connection and returns the ws URL.
func newWSServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = ws.Close() }()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnReadLoopDispatchesEvents(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		frame := `{"event":"pusher_internal:subscription_succeeded","data":"{}","channel":"chatrooms.668.v2"}`
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Errorf("server write: %v", err)
		}
		// Hold the connection until the client is done.
		_, _, _ = ws.ReadMessage()
	})

	conn, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer func() { _ = conn.Close() }()

	got := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = conn.ReadLoop(ctx, func(ev Event) { got <- ev })
	}()

	select {
	case ev := <-got:
		if ev.Event != EventSubscriptionSucceeded || ev.Channel != "chatrooms.668.v2" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
	}
}

func TestConnSendJSON(t *testing.T) {
	received := make(chan subscribeCommand, 1)
	url := newWSServer(t, func(ws *websocket.Conn) {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd subscribeCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		received <- cmd
	})

	conn, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.SendJSON(subscribeCommand{
		Event: EventSubscribe,
		Data:  subscribeData{Channel: RoomChannel(668)},
	})
	if err != nil {
		t.Fatalf("SendJSON() error: %v", err)
	}

	select {
	case cmd := <-received:
		if cmd.Event != EventSubscribe || cmd.Data.Channel != "chatrooms.668.v2" {
			t.Errorf("server received %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the server")
	}
}

func TestFeedSendWhileDisconnected(t *testing.T) {
	f := NewFeed("ws://127.0.0.1:1/nowhere")
	if err := f.SendJSON(subscribeCommand{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendJSON() = %v, want ErrNotConnected", err)
	}
}

func TestFeedRunDispatchesAndNotifies(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		frame := `{"event":"App\\Events\\ChatMessageEvent","data":"{\"chatroom_id\":668,\"content\":\"hi\",\"sender\":{\"username\":\"v\"}}","channel":"chatrooms.668.v2"}`
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Errorf("server write: %v", err)
		}
		_, _, _ = ws.ReadMessage()
	})

	f := NewFeed(url)
	events := make(chan Event, 1)
	var mu sync.Mutex
	connected := 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx, func(ev Event) { events <- ev }, func() {
			mu.Lock()
			connected++
			mu.Unlock()
		})
	}()

	select {
	case ev := <-events:
		if ev.Event != EventChatMessage {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed never dispatched the event")
	}

	mu.Lock()
	if connected != 1 {
		t.Errorf("onConnect fired %d times, want 1", connected)
	}
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on context cancel")
	}
}
