package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseforge/supervisor/internal/statemachine"
	"github.com/pulseforge/supervisor/internal/types"
)

// metadataToJSON renders a transition's metadata map as a JSON object
// string, falling back to an empty object on a nil map or marshal error
// so callers never have to special-case proof_log's NOT NULL column.
func metadataToJSON(metadata map[string]any) string {
	if len(metadata) == 0 {
		return "{}"
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Transition validates (from, to) against the state table, applies it, and
// writes exactly one state_log row plus -- for designated pipeline-stage
// transitions -- one proof_log row whose duration is the wall-clock time
// since the task entered evaluating (zero for the transition into complete,
// and for a task with no evaluating timestamp) (spec.md §4.2, §8).
func (s *Store) Transition(ctx context.Context, id string, to types.State, reason string, metadata map[string]any) error {
	var refused error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := s.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		from := t.Status

		if err := statemachine.Validate(from, to); err != nil {
			// Programmer-error class (spec.md §7): surfaced verbatim, no
			// automatic recovery, and still recorded to the proof log so
			// the refusal itself is auditable.
			_ = s.appendProofTx(ctx, tx, types.ProofLogEntry{
				TaskID: id, Event: "transition_refused", Stage: string(from),
				Decision: "refused", Evidence: err.Error(), DecisionBy: "statemachine",
				Timestamp: time.Now().UTC(),
			})
			refused = err
			return nil
		}

		now := time.Now().UTC()
		t.Status = to
		switch to {
		case types.StateDispatched:
			// no timestamp field dedicated; dispatched->running sets StartedAt
		case types.StateRunning:
			t.StartedAt = now
		case types.StateEvaluating:
			t.EvaluatingAt = now
		case types.StateComplete, types.StateFailed, types.StateVerified, types.StateVerifyFailed, types.StateCancelled:
			t.CompletedAt = now
			if !t.EvaluatingAt.IsZero() {
				t.EvaluationDur = now.Sub(t.EvaluatingAt)
			}
		}

		if err := s.upsertTask(ctx, tx, t, false); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state_log (task_id, from_state, to_state, reason, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			id, string(from), string(to), reason, now,
		); err != nil {
			return fmt.Errorf("appending state_log for %s: %w", id, err)
		}

		if statemachine.IsPipelineStage(from, to) {
			dur := time.Duration(0)
			if !t.EvaluatingAt.IsZero() && to != types.StateComplete {
				dur = now.Sub(t.EvaluatingAt)
			}
			metaJSON := metadataToJSON(metadata)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO proof_logs (task_id, event, stage, decision, evidence, decision_by, pr_url, duration_ms, metadata_json, timestamp)
				VALUES (?, 'stage_transition', ?, ?, ?, 'supervisor', ?, ?, ?, ?)`,
				id, string(to), reason, reason, t.PRURL, dur.Milliseconds(), metaJSON, now,
			); err != nil {
				return fmt.Errorf("appending proof_log for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return refused
}

func (s *Store) AppendState(ctx context.Context, e types.StateLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_log (task_id, from_state, to_state, reason, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.TaskID, string(e.From), string(e.To), e.Reason, e.Timestamp,
	)
	return err
}

func (s *Store) AppendProof(ctx context.Context, e types.ProofLogEntry) error {
	return s.appendProofTx(ctx, s.db, e)
}

func (s *Store) appendProofTx(ctx context.Context, q execer, e types.ProofLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.MetadataRaw == "" {
		e.MetadataRaw = "{}"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO proof_logs (task_id, event, stage, decision, evidence, decision_by, pr_url, duration_ms, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Event, e.Stage, e.Decision, e.Evidence, e.DecisionBy, e.PRURL,
		e.Duration.Milliseconds(), e.MetadataRaw, e.Timestamp,
	)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) ListStateLog(ctx context.Context, taskID string) ([]types.StateLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, from_state, to_state, reason, timestamp FROM state_log
		WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.StateLogEntry
	for rows.Next() {
		var e types.StateLogEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.TaskID, &from, &to, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.From, e.To = types.State(from), types.State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListProofLog(ctx context.Context, taskID string) ([]types.ProofLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, event, stage, decision, evidence, decision_by, pr_url, duration_ms, metadata_json, timestamp
		FROM proof_logs WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.ProofLogEntry
	for rows.Next() {
		var e types.ProofLogEntry
		var durMs int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Event, &e.Stage, &e.Decision, &e.Evidence,
			&e.DecisionBy, &e.PRURL, &durMs, &e.MetadataRaw, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
