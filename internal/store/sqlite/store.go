package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

// Store implements store.Store over a single *sql.DB connection opened by Open.
type Store struct {
	db   *sql.DB
	path string
}

// New wraps an already-opened, already-migrated database connection.
func New(db *sql.DB, path string) *Store {
	return &Store{db: db, path: path}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Close() error { return s.db.Close() }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanTime(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return s.getTask(ctx, s.db, id)
}

func (s *Store) getTask(ctx context.Context, q querier, id string) (*types.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, repo, description, status, COALESCE(batch_id,''), requested_tier, resolved_model,
			retries, max_retries, escalation_depth, max_escalation, worker_session,
			worktree_path, branch_path, log_path, pr_url, external_issue,
			COALESCE(diagnostic_of,''), COALESCE(live_diagnostic,''),
			last_failure_at, consecutive_failures, last_failure_key, prompt_repeat_done,
			pre_dispatch_main_sha, created_at, started_at, evaluating_at, completed_at,
			evaluation_dur_ms, assignee, claimed_at, pid
		FROM tasks WHERE id = ?`, id)

	t := &types.Task{}
	var lastFailureAt, startedAt, evaluatingAt, completedAt, claimedAt sql.NullTime
	var promptRepeatDone int
	var evalDurMs int64
	err := row.Scan(
		&t.ID, &t.Repo, &t.Description, &t.Status, &t.BatchID, &t.RequestedTier, &t.ResolvedModel,
		&t.Retries, &t.MaxRetries, &t.EscalationDepth, &t.MaxEscalation, &t.WorkerSession,
		&t.WorktreePath, &t.BranchPath, &t.LogPath, &t.PRURL, &t.ExternalIssue,
		&t.DiagnosticOf, &t.LiveDiagnostic,
		&lastFailureAt, &t.ConsecutiveFailures, &t.LastFailureKey, &promptRepeatDone,
		&t.PreDispatchMainSHA, &t.CreatedAt, &startedAt, &evaluatingAt, &completedAt,
		&evalDurMs, &t.Assignee, &claimedAt, &t.PID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task %s: %w", id, err)
	}
	t.LastFailureAt = scanTime(lastFailureAt)
	t.StartedAt = scanTime(startedAt)
	t.EvaluatingAt = scanTime(evaluatingAt)
	t.CompletedAt = scanTime(completedAt)
	t.ClaimedAt = scanTime(claimedAt)
	t.PromptRepeatDone = promptRepeatDone != 0
	t.EvaluationDur = time.Duration(evalDurMs) * time.Millisecond

	blockers, err := s.listBlockedBy(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.BlockedBy = blockers

	tags, err := s.listTags(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.Tags = tags

	return t, nil
}

func (s *Store) listBlockedBy(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocks_on_id FROM task_blocked_by WHERE task_id = ? ORDER BY blocks_on_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing blockers for %s: %w", taskID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) listTags(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM task_tags WHERE task_id = ? ORDER BY tag`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing tags for %s: %w", taskID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*types.Task, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Repo != "" {
		clauses = append(clauses, "repo = ?")
		args = append(args, filter.Repo)
	}
	query := `SELECT id FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY retries ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Store) CreateTask(ctx context.Context, t *types.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertTask(ctx, tx, t, true)
	})
}

func (s *Store) UpdateTask(ctx context.Context, t *types.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertTask(ctx, tx, t, false)
	})
}

func (s *Store) upsertTask(ctx context.Context, tx *sql.Tx, t *types.Task, insert bool) error {
	if insert {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, repo, description, status, batch_id, requested_tier, resolved_model,
				retries, max_retries, escalation_depth, max_escalation, worker_session,
				worktree_path, branch_path, log_path, pr_url, external_issue,
				diagnostic_of, live_diagnostic, last_failure_at, consecutive_failures,
				last_failure_key, prompt_repeat_done, pre_dispatch_main_sha, created_at,
				started_at, evaluating_at, completed_at, evaluation_dur_ms, assignee, claimed_at, pid)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
				NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Repo, t.Description, string(t.Status), t.BatchID, string(t.RequestedTier), t.ResolvedModel,
			t.Retries, t.MaxRetries, t.EscalationDepth, t.MaxEscalation, t.WorkerSession,
			t.WorktreePath, t.BranchPath, t.LogPath, t.PRURL, t.ExternalIssue,
			t.DiagnosticOf, t.LiveDiagnostic, nullTime(t.LastFailureAt), t.ConsecutiveFailures,
			t.LastFailureKey, boolInt(t.PromptRepeatDone), t.PreDispatchMainSHA, t.CreatedAt.UTC(),
			nullTime(t.StartedAt), nullTime(t.EvaluatingAt), nullTime(t.CompletedAt),
			t.EvaluationDur.Milliseconds(), t.Assignee, nullTime(t.ClaimedAt), t.PID,
		)
		if err != nil {
			return fmt.Errorf("inserting task %s: %w", t.ID, err)
		}
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET repo=?, description=?, status=?, batch_id=NULLIF(?, ''),
				requested_tier=?, resolved_model=?, retries=?, max_retries=?,
				escalation_depth=?, max_escalation=?, worker_session=?, worktree_path=?,
				branch_path=?, log_path=?, pr_url=?, external_issue=?,
				diagnostic_of=NULLIF(?, ''), live_diagnostic=NULLIF(?, ''),
				last_failure_at=?, consecutive_failures=?, last_failure_key=?,
				prompt_repeat_done=?, pre_dispatch_main_sha=?, started_at=?,
				evaluating_at=?, completed_at=?, evaluation_dur_ms=?, assignee=?, claimed_at=?, pid=?
			WHERE id=?`,
			t.Repo, t.Description, string(t.Status), t.BatchID,
			string(t.RequestedTier), t.ResolvedModel, t.Retries, t.MaxRetries,
			t.EscalationDepth, t.MaxEscalation, t.WorkerSession, t.WorktreePath,
			t.BranchPath, t.LogPath, t.PRURL, t.ExternalIssue,
			t.DiagnosticOf, t.LiveDiagnostic,
			nullTime(t.LastFailureAt), t.ConsecutiveFailures, t.LastFailureKey,
			boolInt(t.PromptRepeatDone), t.PreDispatchMainSHA, nullTime(t.StartedAt),
			nullTime(t.EvaluatingAt), nullTime(t.CompletedAt), t.EvaluationDur.Milliseconds(),
			t.Assignee, nullTime(t.ClaimedAt), t.PID,
			t.ID,
		)
		if err != nil {
			return fmt.Errorf("updating task %s: %w", t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_blocked_by WHERE task_id = ?`, t.ID); err != nil {
		return err
	}
	for _, b := range t.BlockedBy {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_blocked_by (task_id, blocks_on_id) VALUES (?, ?)`, t.ID, b); err != nil {
			return fmt.Errorf("inserting blocker %s for %s: %w", b, t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ?`, t.ID); err != nil {
		return err
	}
	for _, tag := range t.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags (task_id, tag) VALUES (?, ?)`, t.ID, tag); err != nil {
			return fmt.Errorf("inserting tag %s for %s: %w", tag, t.ID, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// querier is the subset of *sql.DB / *sql.Tx used by read helpers, so they
// can run either against the shared connection or inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. The DSN's _txlock=immediate (set in Open) makes
// the underlying BEGIN an IMMEDIATE one, acquiring the write lock up front
// to avoid the deadlock window a deferred read->write upgrade can create
// under contention -- same rationale as the teacher's Transaction docs.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

func (s *Store) GetBatch(ctx context.Context, id string) (*types.Batch, error) {
	b := &types.Batch{}
	var triggerRelease, skipQG int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, target_concurrency, max_concurrency, load_factor, trigger_release, release_type, skip_quality_gate
		FROM batches WHERE id = ?`, id).Scan(
		&b.ID, &b.TargetConcurrency, &b.MaxConcurrency, &b.LoadFactor, &triggerRelease, &b.ReleaseType, &skipQG,
	)
	if err != nil {
		return nil, fmt.Errorf("getting batch %s: %w", id, err)
	}
	b.TriggerRelease = triggerRelease != 0
	b.SkipQualityGate = skipQG != 0
	return b, nil
}

func (s *Store) UpsertBatch(ctx context.Context, b *types.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, target_concurrency, max_concurrency, load_factor, trigger_release, release_type, skip_quality_gate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_concurrency=excluded.target_concurrency,
			max_concurrency=excluded.max_concurrency,
			load_factor=excluded.load_factor,
			trigger_release=excluded.trigger_release,
			release_type=excluded.release_type,
			skip_quality_gate=excluded.skip_quality_gate`,
		b.ID, b.TargetConcurrency, b.MaxConcurrency, b.LoadFactor, boolInt(b.TriggerRelease), b.ReleaseType, boolInt(b.SkipQualityGate),
	)
	if err != nil {
		return fmt.Errorf("upserting batch %s: %w", b.ID, err)
	}
	return nil
}
