package statemachine

import (
	"context"
	"fmt"

	"github.com/pulseforge/supervisor/internal/types"
)

// Forge is the upstream code-forge collaborator a guard may need to
// consult (spec.md §6 "Upstream code-forge CLI"). The core only ever
// reads through this interface; it never shells out directly from this
// package, keeping statemachine unit-testable with a fake.
type Forge interface {
	// PRMerged reports whether prURL's upstream state is MERGED.
	PRMerged(ctx context.Context, prURL string) (bool, error)
	// TaskDelivered reports whether repo's history or backlog shows this
	// task ID as already delivered (a merged PR exists for it).
	TaskDelivered(ctx context.Context, repo, taskID string) (bool, error)
}

// ErrGuardBlocked is returned when a structurally-legal transition is
// refused by a named guard.
type ErrGuardBlocked struct {
	Guard  string
	Reason string
}

func (e *ErrGuardBlocked) Error() string {
	return fmt.Sprintf("guard %s blocked transition: %s", e.Guard, e.Reason)
}

// GuardDeployed implements the complete->deployed guard (spec.md §4.2):
// if the task carries a real (non-sentinel) PR URL, the transition into
// `deployed` is blocked unless the forge reports that PR as merged.
func GuardDeployed(ctx context.Context, t *types.Task, forge Forge) error {
	if !t.HasRealPR() {
		return nil
	}
	merged, err := forge.PRMerged(ctx, t.PRURL)
	if err != nil {
		return fmt.Errorf("checking PR merge state for %s: %w", t.PRURL, err)
	}
	if !merged {
		return &ErrGuardBlocked{
			Guard:  "complete->deployed",
			Reason: fmt.Sprintf("PR %s is not yet merged upstream", t.PRURL),
		}
	}
	return nil
}

// GuardReset implements the administrative reset guard (spec.md §4.2):
// a task whose repository history or backlog entry shows a merged PR for
// this task ID may not be reset to queued -- it must be explicitly
// cancelled instead, to avoid re-burning a session on delivered work.
func GuardReset(ctx context.Context, t *types.Task, forge Forge) error {
	delivered, err := forge.TaskDelivered(ctx, t.Repo, t.ID)
	if err != nil {
		return fmt.Errorf("checking delivery state for %s: %w", t.ID, err)
	}
	if delivered {
		return &ErrGuardBlocked{
			Guard:  "reset",
			Reason: fmt.Sprintf("task %s already has a merged PR; cancel instead of reset", t.ID),
		}
	}
	return nil
}
