// Package migrations holds one file per schema migration, each an
// idempotent function over a *sql.DB. Migrations are run in order, inside
// a single EXCLUSIVE transaction, by sqlite.RunMigrations.
package migrations

import (
	"database/sql"
	"fmt"
)

// initialStatusCheck intentionally omits a few states that a later
// migration (003_widen_status_check.go) adds, so that migration exercises
// the rename-copy-drop CHECK-widening pattern spec.md §4.1 requires.
const initialStatusCheck = `'queued','dispatched','running','evaluating','retrying',
	'complete','pr_review','merging','merged','deploying','deployed',
	'verifying','verified','blocked','failed','cancelled'`

// MigrateInitialSchema creates the tables named in spec.md §3: tasks,
// batches, state_log, proof_logs, action_dedup_log, stale_recovery_log.
func MigrateInitialSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id                 TEXT PRIMARY KEY,
			target_concurrency INTEGER NOT NULL DEFAULT 1,
			max_concurrency    INTEGER NOT NULL DEFAULT 0,
			load_factor        REAL NOT NULL DEFAULT 1.0,
			trigger_release    INTEGER NOT NULL DEFAULT 0,
			release_type       TEXT NOT NULL DEFAULT 'patch',
			skip_quality_gate  INTEGER NOT NULL DEFAULT 0
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
			id                    TEXT PRIMARY KEY,
			repo                  TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL CHECK(status IN (%s)),
			batch_id              TEXT REFERENCES batches(id),
			requested_tier        TEXT NOT NULL DEFAULT '',
			resolved_model        TEXT NOT NULL DEFAULT '',
			retries               INTEGER NOT NULL DEFAULT 0,
			max_retries           INTEGER NOT NULL DEFAULT 3,
			escalation_depth      INTEGER NOT NULL DEFAULT 0,
			max_escalation        INTEGER NOT NULL DEFAULT 2,
			worker_session        TEXT NOT NULL DEFAULT '',
			worktree_path         TEXT NOT NULL DEFAULT '',
			branch_path           TEXT NOT NULL DEFAULT '',
			log_path              TEXT NOT NULL DEFAULT '',
			pr_url                TEXT NOT NULL DEFAULT '',
			external_issue        TEXT NOT NULL DEFAULT '',
			diagnostic_of         TEXT REFERENCES tasks(id),
			live_diagnostic       TEXT REFERENCES tasks(id),
			last_failure_at       DATETIME,
			consecutive_failures  INTEGER NOT NULL DEFAULT 0,
			last_failure_key      TEXT NOT NULL DEFAULT '',
			prompt_repeat_done    INTEGER NOT NULL DEFAULT 0,
			pre_dispatch_main_sha TEXT NOT NULL DEFAULT '',
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at            DATETIME,
			evaluating_at         DATETIME,
			completed_at          DATETIME,
			evaluation_dur_ms     INTEGER NOT NULL DEFAULT 0,
			assignee              TEXT NOT NULL DEFAULT '',
			claimed_at            DATETIME,
			CHECK (retries <= max_retries OR status = 'failed'),
			CHECK (escalation_depth <= max_escalation)
		)`, initialStatusCheck),
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch ON tasks(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_repo ON tasks(repo)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_diagnostic_of ON tasks(diagnostic_of)`,

		`CREATE TABLE IF NOT EXISTS task_blocked_by (
			task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			blocks_on_id TEXT NOT NULL,
			PRIMARY KEY (task_id, blocks_on_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_tags (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			tag     TEXT NOT NULL,
			PRIMARY KEY (task_id, tag)
		)`,

		`CREATE TABLE IF NOT EXISTS state_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id   TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state   TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_log_task ON state_log(task_id)`,

		`CREATE TABLE IF NOT EXISTS proof_logs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id       TEXT NOT NULL,
			event         TEXT NOT NULL,
			stage         TEXT NOT NULL DEFAULT '',
			decision      TEXT NOT NULL DEFAULT '',
			evidence      TEXT NOT NULL DEFAULT '',
			decision_by   TEXT NOT NULL DEFAULT '',
			pr_url        TEXT NOT NULL DEFAULT '',
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			timestamp     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proof_logs_task ON proof_logs(task_id)`,

		`CREATE TABLE IF NOT EXISTS action_dedup_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id    TEXT NOT NULL,
			action_type TEXT NOT NULL,
			target      TEXT NOT NULL,
			status      TEXT NOT NULL,
			state_hash  TEXT NOT NULL,
			timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_dedup_cycle ON action_dedup_log(cycle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_action_dedup_triple ON action_dedup_log(action_type, target, state_hash)`,

		`CREATE TABLE IF NOT EXISTS stale_recovery_log (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id             TEXT NOT NULL,
			detected_by_phase   TEXT NOT NULL,
			from_state          TEXT NOT NULL,
			to_state            TEXT NOT NULL,
			stale_seconds       INTEGER NOT NULL,
			root_cause          TEXT NOT NULL DEFAULT '',
			had_pr              INTEGER NOT NULL DEFAULT 0,
			had_live_worker     INTEGER NOT NULL DEFAULT 0,
			retries_at_recovery INTEGER NOT NULL DEFAULT 0,
			worker_completed_at DATETIME,
			eval_started_at     DATETIME,
			eval_lag_seconds    INTEGER NOT NULL DEFAULT 0,
			timestamp           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initial schema: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}
