package monitor

import (
	"database/sql"

	"github.com/uptimo/uptimo/internal/store"
)

func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create monitors and check_results tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS monitors (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						type TEXT NOT NULL,
						target TEXT NOT NULL,
						check_interval_seconds INTEGER NOT NULL DEFAULT 300,
						timeout_seconds INTEGER NOT NULL DEFAULT 30,
						active INTEGER NOT NULL DEFAULT 1,
						debounce_count INTEGER NOT NULL DEFAULT 1,
						config TEXT NOT NULL DEFAULT '{}',
						last_tls_check DATETIME,
						last_domain_check DATETIME,
						domain_check_failed INTEGER NOT NULL DEFAULT 0,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_monitors_type_active ON monitors(type, active)`,

					`CREATE TABLE IF NOT EXISTS check_results (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						monitor_id INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
						timestamp DATETIME NOT NULL,
						status TEXT NOT NULL,
						response_time_ms REAL,
						status_code INTEGER,
						error_kind TEXT,
						error_message TEXT,
						extra TEXT
					)`,
					`CREATE INDEX IF NOT EXISTS idx_check_results_monitor_time ON check_results(monitor_id, timestamp)`,
					`CREATE INDEX IF NOT EXISTS idx_check_results_monitor_status_time ON check_results(monitor_id, status, timestamp)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
