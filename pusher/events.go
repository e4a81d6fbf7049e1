// Package pusher implements the upstream chat feed: a websocket connection to
// the Pusher endpoint Kick delivers chat on, and the per-room subscription
// state machine layered over it.
package pusher

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Upstream event names.
const (
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventChatMessage           = `App\Events\ChatMessageEvent`
)

// Event is the envelope every upstream frame decodes into. Data is itself a
// JSON document carried as a string.
type Event struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Channel string `json:"channel,omitempty"`
}

// ChatMessage is the payload of an EventChatMessage frame.
type ChatMessage struct {
	ChatroomID int64  `json:"chatroom_id"`
	Content    string `json:"content"`
	Sender     struct {
		Username string `json:"username"`
	} `json:"sender"`
}

// ParseChatMessage decodes the data field of a chat-message event.
func ParseChatMessage(data string) (*ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("decode chat message: %w", err)
	}
	return &msg, nil
}

// subscribeCommand is the wire shape of subscribe/unsubscribe requests. Unlike
// inbound frames, the data field goes out as a JSON object.
type subscribeCommand struct {
	Event string        `json:"event"`
	Data  subscribeData `json:"data"`
}

type subscribeData struct {
	Channel string  `json:"channel"`
	Auth    *string `json:"auth"`
}

// RoomChannel formats the Pusher channel name for a chatroom id.
func RoomChannel(roomID int64) string {
	return "chatrooms." + strconv.FormatInt(roomID, 10) + ".v2"
}

var roomChannelPattern = regexp.MustCompile(`^chatrooms\.(\d+)\.v2$`)

// RoomIDFromChannel extracts the chatroom id embedded in a Pusher channel
// name, e.g. "chatrooms.668.v2" -> 668.
func RoomIDFromChannel(channel string) (int64, bool) {
	m := roomChannelPattern.FindStringSubmatch(channel)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
