package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateAuxiliaryTables adds the two optional tables named in spec.md §3
// that are not part of the minimum viable core but whose absence should
// never break a fresh install: container_pool and routine_scheduler_state.
func MigrateAuxiliaryTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS container_pool (
			name                     TEXT PRIMARY KEY,
			healthy                  INTEGER NOT NULL DEFAULT 1,
			rate_limit_cooldown_until DATETIME,
			last_dispatch_at         DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS routine_scheduler_state (
			routine_name        TEXT PRIMARY KEY,
			run_count           INTEGER NOT NULL DEFAULT 0,
			zero_findings_streak INTEGER NOT NULL DEFAULT 0,
			defer_until         DATETIME
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("auxiliary tables: %w", err)
		}
	}
	return nil
}
