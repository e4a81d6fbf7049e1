package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
)

// LocalStatus is the protocol server's view for /status. *irc.Server satisfies it.
type LocalStatus interface {
	ClientCount() int
	Channels() map[string]int
}

// UpstreamStatus is the subscription manager's view for /status. *pusher.Manager satisfies it.
type UpstreamStatus interface {
	Rooms() map[int64]string
}

// Handlers carries the dependencies the admin endpoints read from. The db is
// nil unless chat archiving is enabled.
type Handlers struct {
	local    LocalStatus
	upstream UpstreamStatus
	db       *sql.DB
}

func NewHandlers(local LocalStatus, upstream UpstreamStatus, db *sql.DB) *Handlers {
	return &Handlers{local: local, upstream: upstream, db: db}
}

// HandleHealthz responds to liveness probe requests. When archiving is on,
// database connectivity is part of liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStatus reports connected clients, active channels with member counts,
// and tracked upstream rooms with their subscription state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	rooms := make(map[string]string)
	for id, status := range h.upstream.Rooms() {
		rooms[strconv.FormatInt(id, 10)] = status
	}
	payload := map[string]interface{}{
		"clients":  h.local.ClientCount(),
		"channels": h.local.Channels(),
		"rooms":    rooms,
		"archive":  h.db != nil,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
