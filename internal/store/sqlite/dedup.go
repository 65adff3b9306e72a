package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

// RecordDedup appends one action_dedup_log row (spec.md §8's rolling-window
// suppression check reads these back through RecentDedupEntries).
func (s *Store) RecordDedup(ctx context.Context, e types.ActionDedupEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_dedup_log (cycle_id, action_type, target, status, state_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.CycleID, e.ActionType, e.Target, string(e.Status), e.StateHash, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording dedup entry for %s/%s: %w", e.ActionType, e.Target, err)
	}
	return nil
}

// RecentDedupEntries returns every action_dedup_log row belonging to the n
// most recent distinct cycle IDs, newest first.
func (s *Store) RecentDedupEntries(ctx context.Context, n int) ([]types.ActionDedupEntry, error) {
	cycles, err := s.QueryRecentCycles(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(cycles))
	qs := ""
	for i, c := range cycles {
		placeholders[i] = c
		if i > 0 {
			qs += ","
		}
		qs += "?"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, action_type, target, status, state_hash, timestamp
		FROM action_dedup_log WHERE cycle_id IN (`+qs+`) ORDER BY id DESC`, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("listing recent dedup entries: %w", err)
	}
	defer rows.Close()
	var out []types.ActionDedupEntry
	for rows.Next() {
		var e types.ActionDedupEntry
		var status string
		if err := rows.Scan(&e.ID, &e.CycleID, &e.ActionType, &e.Target, &status, &e.StateHash, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = types.DedupStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryRecentCycles returns the n most recent distinct cycle IDs recorded in
// action_dedup_log, newest first.
func (s *Store) QueryRecentCycles(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id FROM action_dedup_log
		GROUP BY cycle_id ORDER BY MAX(id) DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent cycles: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneDedupLog deletes action_dedup_log rows older than olderThan, keeping
// the table bounded the way the teacher's log-rotation conventions do.
func (s *Store) PruneDedupLog(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_dedup_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning dedup log: %w", err)
	}
	return nil
}

// RecordStaleRecovery appends one stale_recovery_log row (Phase 0.9 sanity
// sweep, spec.md §8).
func (s *Store) RecordStaleRecovery(ctx context.Context, e types.StaleRecoveryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stale_recovery_log (task_id, detected_by_phase, from_state, to_state,
			stale_seconds, root_cause, had_pr, had_live_worker, retries_at_recovery,
			worker_completed_at, eval_started_at, eval_lag_seconds, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.DetectedByPhase, string(e.From), string(e.To),
		e.StaleSeconds, e.RootCause, boolInt(e.HadPR), boolInt(e.HadLiveWorker), e.RetriesAtRecover,
		nullTime(e.WorkerCompletedAt), nullTime(e.EvalStartedAt), e.EvalLagSeconds, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording stale recovery for %s: %w", e.TaskID, err)
	}
	return nil
}

// PruneStaleRecoveryLog deletes stale_recovery_log rows older than olderThan.
func (s *Store) PruneStaleRecoveryLog(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.db.ExecContext(ctx, `DELETE FROM stale_recovery_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning stale recovery log: %w", err)
	}
	return nil
}
