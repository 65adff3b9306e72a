// Package store defines the persistence interface the rest of the
// supervisor depends on (spec.md §4.1). The concrete implementation lives
// in internal/store/sqlite; everything above this package talks to the
// interface so tests can substitute an in-memory fake.
package store

import (
	"context"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

// TaskFilter narrows ListTasks results. Zero values mean "no filter".
type TaskFilter struct {
	Status  types.State
	BatchID string
	Repo    string
}

// Store is the atomic persistence surface every component is handed
// (typically wrapped in a pulse.Deps value, per DESIGN notes on avoiding
// process-wide singletons).
type Store interface {
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error)
	CreateTask(ctx context.Context, t *types.Task) error
	UpdateTask(ctx context.Context, t *types.Task) error

	// Transition validates and applies a state change, writing a state_log
	// row (and, for pipeline-stage transitions, a proof_log row) atomically.
	// metadata is merged into the proof-log entry's metadata JSON when a
	// proof-log row is written.
	Transition(ctx context.Context, id string, to types.State, reason string, metadata map[string]any) error

	AppendState(ctx context.Context, e types.StateLogEntry) error
	AppendProof(ctx context.Context, e types.ProofLogEntry) error
	ListStateLog(ctx context.Context, taskID string) ([]types.StateLogEntry, error)
	ListProofLog(ctx context.Context, taskID string) ([]types.ProofLogEntry, error)

	RecordDedup(ctx context.Context, e types.ActionDedupEntry) error
	// RecentDedupEntries returns executed/suppressed rows from the last n
	// distinct cycle IDs, newest first, for the rolling-window suppression
	// check in spec.md §8.
	RecentDedupEntries(ctx context.Context, n int) ([]types.ActionDedupEntry, error)
	QueryRecentCycles(ctx context.Context, n int) ([]string, error)
	PruneDedupLog(ctx context.Context, olderThan time.Duration) error

	RecordStaleRecovery(ctx context.Context, e types.StaleRecoveryEntry) error
	PruneStaleRecoveryLog(ctx context.Context, olderThan time.Duration) error

	GetBatch(ctx context.Context, id string) (*types.Batch, error)
	UpsertBatch(ctx context.Context, b *types.Batch) error

	Close() error
}
