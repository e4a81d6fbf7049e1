// Package chat contains the optional archiver that persists relayed messages
// into the chat_messages table for later inspection or replay tooling.
package chat

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/onnwee/kick-bridge/telemetry"
)

// Recorder inserts one row per relayed message. Insert failures are logged
// and counted, never propagated; archiving must not disturb delivery.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record persists a relayed message.
func (r *Recorder) Record(ctx context.Context, channel string, roomID int64, sender, message string) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (channel, room_id, username, message) VALUES ($1, $2, $3, $4)`,
		channel, roomID, sender, message)
	if err != nil {
		if telemetry.ArchiveInsertErrors != nil {
			telemetry.ArchiveInsertErrors.Inc()
		}
		slog.Error("failed to insert chat message", slog.String("channel", channel), slog.Any("err", err), slog.String("component", "chat_archive"))
	}
}
