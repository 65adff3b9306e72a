// Package sqlite is the Store's concrete backend: a pure-Go, CGO-free
// SQLite database (github.com/ncruces/go-sqlite3, running over wazero) in
// WAL mode, migrated by a versioned, backup-guarded migration runner.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/pulseforge/supervisor/internal/store/sqlite/migrations"
)

// Migration pairs a stable name with the idempotent function that applies it.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations run during Open.
var migrationsList = []Migration{
	{"initial_schema", migrations.MigrateInitialSchema},
	{"auxiliary_tables", migrations.MigrateAuxiliaryTables},
	{"widen_status_check", migrations.MigrateWidenStatusCheck},
	{"add_task_pid", migrations.MigrateAddTaskPID},
}

// tableRowCounts is a pre/post-migration snapshot of every table the
// migration runner knows about, used to enforce the row-count-verify
// invariant from spec.md §4.1: no known table may shrink across a migration.
type tableRowCounts map[string]int64

var knownTables = []string{
	"tasks", "batches", "state_log", "proof_logs", "action_dedup_log",
	"stale_recovery_log", "container_pool", "routine_scheduler_state",
	"task_blocked_by", "task_tags",
}

func captureSnapshot(db *sql.DB) (tableRowCounts, error) {
	snap := make(tableRowCounts, len(knownTables))
	for _, t := range knownTables {
		var exists int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, t).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking table %s exists: %w", t, err)
		}
		if exists == 0 {
			continue // table doesn't exist yet; nothing to protect
		}
		var n int64
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t)).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting rows in %s: %w", t, err)
		}
		snap[t] = n
	}
	return snap, nil
}

func verifyInvariants(db *sql.DB, before tableRowCounts) error {
	after, err := captureSnapshot(db)
	if err != nil {
		return err
	}
	for table, beforeCount := range before {
		afterCount, ok := after[table]
		if !ok {
			return fmt.Errorf("row-count invariant violated: table %s disappeared (had %d rows)", table, beforeCount)
		}
		if afterCount < beforeCount {
			return fmt.Errorf("row-count invariant violated: table %s shrank from %d to %d rows", table, beforeCount, afterCount)
		}
	}
	return nil
}

// RunMigrations executes all registered migrations in order inside one
// EXCLUSIVE transaction, verifying the row-count-verify invariant
// afterwards. Callers are expected to have already taken a file-level
// backup (see Backup in backup.go) before calling this, so that a failure
// here can be recovered by restoring that backup atomically.
func RunMigrations(db *sql.DB) error {
	// PRAGMA foreign_keys must be toggled outside any transaction.
	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	snapshot, err := captureSnapshot(db)
	if err != nil {
		return fmt.Errorf("failed to capture pre-migration snapshot: %w", err)
	}

	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}

	if err := verifyInvariants(db, snapshot); err != nil {
		return fmt.Errorf("post-migration validation failed: %w", err)
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}

// ListMigrations exposes migration names/order for `supervisor status --global`.
func ListMigrations() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}
