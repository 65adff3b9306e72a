package migrations

import (
	"database/sql"
	"fmt"
)

// widenedStatusCheck is the full state set from spec.md §4.2, including
// review_triage and verify_failed which the initial schema's CHECK
// constraint omitted.
const widenedStatusCheck = `'queued','dispatched','running','evaluating','retrying',
	'complete','pr_review','review_triage','merging','merged','deploying','deployed',
	'verifying','verified','verify_failed','blocked','failed','cancelled'`

// MigrateWidenStatusCheck widens the tasks.status CHECK constraint.
//
// SQLite cannot ALTER a CHECK constraint in place, so this follows the
// rename-old-table -> create-new-table -> copy-rows-with-explicit-columns
// -> drop-old-table sequence spec.md §4.1 mandates for any CHECK widening,
// all inside the single migration transaction RunMigrations already holds.
func MigrateWidenStatusCheck(db *sql.DB) error {
	var hasReviewTriage bool
	row := db.QueryRow(`SELECT sql FROM sqlite_master WHERE type='table' AND name='tasks'`)
	var createSQL string
	if err := row.Scan(&createSQL); err != nil {
		return fmt.Errorf("widen status check: read tasks schema: %w", err)
	}
	hasReviewTriage = containsSubstring(createSQL, "review_triage")
	if hasReviewTriage {
		return nil // already widened
	}

	stmts := []string{
		`ALTER TABLE tasks RENAME TO tasks_old_widen`,
		fmt.Sprintf(`CREATE TABLE tasks (
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
		)`, widenedStatusCheck),
		`INSERT INTO tasks (
			id, repo, description, status, batch_id, requested_tier, resolved_model,
			retries, max_retries, escalation_depth, max_escalation, worker_session,
			worktree_path, branch_path, log_path, pr_url, external_issue, diagnostic_of,
			live_diagnostic, last_failure_at, consecutive_failures, last_failure_key,
			prompt_repeat_done, pre_dispatch_main_sha, created_at, started_at,
			evaluating_at, completed_at, evaluation_dur_ms, assignee, claimed_at
		)
		SELECT
			id, repo, description, status, batch_id, requested_tier, resolved_model,
			retries, max_retries, escalation_depth, max_escalation, worker_session,
			worktree_path, branch_path, log_path, pr_url, external_issue, diagnostic_of,
			live_diagnostic, last_failure_at, consecutive_failures, last_failure_key,
			prompt_repeat_done, pre_dispatch_main_sha, created_at, started_at,
			evaluating_at, completed_at, evaluation_dur_ms, assignee, claimed_at
		FROM tasks_old_widen`,
		`DROP TABLE tasks_old_widen`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch ON tasks(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_repo ON tasks(repo)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_diagnostic_of ON tasks(diagnostic_of)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("widen status check: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}

func containsSubstring(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
