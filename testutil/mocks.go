package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockKickServer creates a test server that mocks Kick channel metadata responses.
type MockKickServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	hits atomic.Int64
}

// NewMockKickServer creates a new mock Kick API server. Requests to paths
// without a registered handler return 404.
func NewMockKickServer(t *testing.T) *MockKickServer {
	t.Helper()
	m := &MockKickServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Hits reports how many requests the server has received.
func (m *MockKickServer) Hits() int64 { return m.hits.Load() }

// MockChannelResponse registers a handler for /api/v2/channels/<slug>
// returning the given chatroom id.
func (m *MockKickServer) MockChannelResponse(slug string, chatroomID int64) {
	m.Handlers["/api/v2/channels/"+slug] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"slug": slug,
			"chatroom": map[string]interface{}{
				"id": chatroomID,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockChannelWithoutChatroom registers a handler whose response lacks the
// chatroom id field, which callers must treat as a resolution failure.
func (m *MockKickServer) MockChannelWithoutChatroom(slug string) {
	m.Handlers["/api/v2/channels/"+slug] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{"slug": slug}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
