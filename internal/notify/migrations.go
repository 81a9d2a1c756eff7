package notify

import (
	"database/sql"

	"github.com/uptimo/uptimo/internal/store"
)

// Migrations returns the notification schema, applied under the "notify"
// component.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create channels, bindings, and delivery log",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS notification_channels (
						id         TEXT PRIMARY KEY,
						name       TEXT NOT NULL,
						type       TEXT NOT NULL,
						config     TEXT NOT NULL DEFAULT '{}',
						enabled    INTEGER NOT NULL DEFAULT 1,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
					CREATE TABLE IF NOT EXISTS monitor_channels (
						monitor_id             INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
						channel_id             TEXT NOT NULL REFERENCES notification_channels(id) ON DELETE CASCADE,
						notify_on_down         INTEGER NOT NULL DEFAULT 1,
						notify_on_up           INTEGER NOT NULL DEFAULT 1,
						escalate_after_minutes INTEGER NOT NULL DEFAULT 0,
						PRIMARY KEY (monitor_id, channel_id)
					);
					CREATE TABLE IF NOT EXISTS notification_logs (
						id          INTEGER PRIMARY KEY AUTOINCREMENT,
						incident_id TEXT NOT NULL DEFAULT '',
						channel_id  TEXT NOT NULL,
						monitor_id  INTEGER NOT NULL DEFAULT 0,
						kind        TEXT NOT NULL,
						success     INTEGER NOT NULL,
						error       TEXT NOT NULL DEFAULT '',
						sent_at     TIMESTAMP NOT NULL
					);
					CREATE INDEX IF NOT EXISTS idx_notification_logs_sent ON notification_logs(sent_at);
					CREATE INDEX IF NOT EXISTS idx_notification_logs_incident ON notification_logs(incident_id);
				`)
				return err
			},
		},
	}
}
