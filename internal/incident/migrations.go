package incident

import (
	"database/sql"

	"github.com/uptimo/uptimo/internal/store"
)

// Migrations returns the incident schema, applied under the "incident"
// component.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create incidents table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS incidents (
						id          TEXT PRIMARY KEY,
						monitor_id  INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
						started_at  TIMESTAMP NOT NULL,
						resolved_at TIMESTAMP,
						status      TEXT NOT NULL DEFAULT 'active',
						description TEXT NOT NULL DEFAULT '',
						is_viewed   INTEGER NOT NULL DEFAULT 0
					);
					CREATE INDEX IF NOT EXISTS idx_incidents_monitor ON incidents(monitor_id, started_at);
					CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
					CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_active
						ON incidents(monitor_id) WHERE status = 'active';
				`)
				return err
			},
		},
	}
}
