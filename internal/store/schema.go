package store

import (
	"database/sql"
	"fmt"
)

// Envelopes are keyed by (room_id, timestamp) with secondary access by
// sender and by type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS envelopes (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		type        TEXT NOT NULL,
		event       TEXT NOT NULL,
		payload     TEXT NOT NULL,
		meta        TEXT,
		timestamp   DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_envelopes_room_time ON envelopes(room_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_envelopes_sender ON envelopes(sender_id)`,
	`CREATE INDEX IF NOT EXISTS idx_envelopes_type ON envelopes(type)`,
	`CREATE INDEX IF NOT EXISTS idx_envelopes_time ON envelopes(timestamp)`,
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
