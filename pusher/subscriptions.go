package pusher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/kick-bridge/telemetry"
)

// ErrSubscribeTimeout reports that no confirmation arrived for a subscribe
// command within the configured window. The room is left unsubscribed; the
// caller logs and continues.
var ErrSubscribeTimeout = errors.New("subscribe confirmation timed out")

// Status of a tracked room.
type Status int

const (
	StatusPending Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "pending"
}

// CommandSender sends subscribe/unsubscribe commands upstream. *Conn
// satisfies it; tests substitute a fake.
type CommandSender interface {
	SendJSON(v interface{}) error
}

// Manager owns per-room subscription state. At most one pending-or-active
// entry exists per room id; duplicate subscribes are no-ops. Confirmations
// are matched to the request that issued them through a one-shot waiter
// keyed by room id, so completed or timed-out requests leave nothing behind.
type Manager struct {
	sender  CommandSender
	timeout time.Duration

	mu      sync.Mutex
	rooms   map[int64]Status
	waiters map[int64]chan struct{}
}

func NewManager(sender CommandSender, timeout time.Duration) *Manager {
	return &Manager{
		sender:  sender,
		timeout: timeout,
		rooms:   make(map[int64]Status),
		waiters: make(map[int64]chan struct{}),
	}
}

// Subscribe issues a subscribe command for roomID and blocks until the
// confirmation arrives, the timeout fires, or ctx is cancelled. Subscribing
// a room that is already pending or active sends nothing and returns nil.
func (m *Manager) Subscribe(ctx context.Context, roomID int64) error {
	m.mu.Lock()
	if st, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		slog.Info("room already tracked, skipping subscribe", slog.Int64("room_id", roomID), slog.String("status", st.String()), slog.String("component", "pusher"))
		return nil
	}
	waiter := make(chan struct{})
	m.rooms[roomID] = StatusPending
	m.waiters[roomID] = waiter
	// Published under the lock so racing updates cannot land out of order.
	telemetry.SetSubscribedRooms(len(m.rooms))
	m.mu.Unlock()

	if telemetry.SubscribeAttempts != nil {
		telemetry.SubscribeAttempts.Inc()
	}

	err := m.sender.SendJSON(subscribeCommand{
		Event: EventSubscribe,
		Data:  subscribeData{Channel: RoomChannel(roomID), Auth: nil},
	})
	if err != nil {
		m.drop(roomID)
		return err
	}
	slog.Info("subscribing", slog.String("channel", RoomChannel(roomID)), slog.String("component", "pusher"))

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return nil
	case <-timer.C:
		// The confirmation may have squeaked in between the waiter firing
		// and the timer being selected; only a still-pending entry times out.
		m.mu.Lock()
		if st, ok := m.rooms[roomID]; ok && st == StatusActive {
			m.mu.Unlock()
			return nil
		}
		delete(m.rooms, roomID)
		delete(m.waiters, roomID)
		telemetry.SetSubscribedRooms(len(m.rooms))
		m.mu.Unlock()
		if telemetry.SubscribeTimeouts != nil {
			telemetry.SubscribeTimeouts.Inc()
		}
		return ErrSubscribeTimeout
	case <-ctx.Done():
		m.drop(roomID)
		return ctx.Err()
	}
}

// Unsubscribe sends an unsubscribe command regardless of tracked state
// (idempotent) and removes the entry. Any in-flight waiter is discarded, so
// a confirmation that loses this race is ignored.
func (m *Manager) Unsubscribe(roomID int64) error {
	err := m.sender.SendJSON(subscribeCommand{
		Event: EventUnsubscribe,
		Data:  subscribeData{Channel: RoomChannel(roomID)},
	})
	m.drop(roomID)
	if err != nil {
		return err
	}
	slog.Info("unsubscribed", slog.String("channel", RoomChannel(roomID)), slog.String("component", "pusher"))
	return nil
}

// HandleEvent inspects an upstream event and resolves the matching waiter on
// subscription confirmations. Confirmations for rooms no longer tracked
// (timed out or unsubscribed) are dropped.
func (m *Manager) HandleEvent(ev Event) {
	if ev.Event != EventSubscriptionSucceeded {
		return
	}
	roomID, ok := RoomIDFromChannel(ev.Channel)
	if !ok {
		return
	}

	m.mu.Lock()
	if _, tracked := m.rooms[roomID]; !tracked {
		m.mu.Unlock()
		slog.Debug("confirmation for untracked room ignored", slog.Int64("room_id", roomID), slog.String("component", "pusher"))
		return
	}
	m.rooms[roomID] = StatusActive
	if waiter, ok := m.waiters[roomID]; ok {
		delete(m.waiters, roomID)
		close(waiter)
	}
	m.mu.Unlock()
	slog.Info("subscribed", slog.String("channel", ev.Channel), slog.String("component", "pusher"))
}

// Rooms returns a status snapshot keyed by room id.
func (m *Manager) Rooms() map[int64]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]string, len(m.rooms))
	for id, st := range m.rooms {
		out[id] = st.String()
	}
	return out
}

// Resubscribe re-sends subscribe commands for every tracked room, marking
// them pending again. Called after the upstream connection is re-established,
// when the remote side has forgotten all prior subscriptions.
func (m *Manager) Resubscribe() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.rooms))
	for id := range m.rooms {
		m.rooms[id] = StatusPending
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		err := m.sender.SendJSON(subscribeCommand{
			Event: EventSubscribe,
			Data:  subscribeData{Channel: RoomChannel(id)},
		})
		if err != nil {
			slog.Warn("resubscribe send failed", slog.Int64("room_id", id), slog.Any("err", err), slog.String("component", "pusher"))
			continue
		}
		slog.Info("resubscribing after reconnect", slog.String("channel", RoomChannel(id)), slog.String("component", "pusher"))
	}
}

func (m *Manager) drop(roomID int64) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	delete(m.waiters, roomID)
	telemetry.SetSubscribedRooms(len(m.rooms))
	m.mu.Unlock()
}
