package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateAddTaskPID adds the column the spawn step records a dispatched
// worker's wrapper-process PID in, so a later pulse cycle can hang-detect
// and signal it (spec.md §4.3 Worker spawn). A plain ALTER TABLE ADD COLUMN
// suffices here -- unlike the status CHECK widening, this isn't touching an
// existing CHECK constraint.
func MigrateAddTaskPID(db *sql.DB) error {
	var hasPID bool
	row := db.QueryRow(`SELECT sql FROM sqlite_master WHERE type='table' AND name='tasks'`)
	var createSQL string
	if err := row.Scan(&createSQL); err != nil {
		return fmt.Errorf("add task pid: read tasks schema: %w", err)
	}
	hasPID = containsSubstring(createSQL, "pid")
	if hasPID {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE tasks ADD COLUMN pid INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add task pid: %w", err)
	}
	return nil
}
