package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseforge/supervisor/internal/dedup"
	"github.com/pulseforge/supervisor/internal/types"
)

// Result is the outcome of the per-task eligibility pipeline, applied inside
// the dispatch call itself rather than during selection, to avoid the
// TOCTOU gap spec.md §4.3 calls out.
type Result struct {
	Proceed bool
	Defer   types.DeferReason
	// BlockReason is set when the pipeline instead wants the task
	// transitioned to blocked with a human-intervention note.
	BlockReason string
	// Cancel is set when the pipeline wants the task cancelled (already-done).
	Cancel bool
	CancelReason string
}

// Deps bundles the collaborators the eligibility pipeline consults. Each is
// a narrow interface so tests can fake any single step.
type Deps struct {
	DedupGuard dedup.Guard

	// TaskDelivered reports whether repo history/backlog shows this task
	// already delivered (step 2).
	TaskDelivered func(ctx context.Context, repo, taskID string) (bool, error)

	// RegisteredRepo returns the repo a task ID is registered under in the
	// DB, or "" if unregistered (step 3).
	RegisteredRepo func(ctx context.Context, taskID string) (string, error)

	// AcquireClaim attempts the backlog-level assignee claim (step 4).
	// granted=false, stale=false means a live foreign claim blocks dispatch.
	AcquireClaim func(ctx context.Context, taskID, host string) (granted, stale bool, err error)

	// CountRunning returns the current running-task count in scope (step 5).
	CountRunning func(ctx context.Context) (int, error)

	// ProbeProvider checks the target LLM provider's health (step 6).
	ProbeProvider func(ctx context.Context, model string) (types.ProviderHealth, error)

	// AcquireWorktree obtains (or reuses) an isolated working directory for
	// this task's branch (step 7).
	AcquireWorktree func(ctx context.Context, t *types.Task) (path string, err error)
}

// Evaluate runs the ordered per-task eligibility pipeline.
func Evaluate(ctx context.Context, d Deps, t *types.Task, scanningRepo, host string, concurrencyCap int, now time.Time) (Result, error) {
	// 1. Dedup guard.
	switch d.DedupGuard.Check(t, now) {
	case dedup.VerdictBlock:
		return Result{BlockReason: fmt.Sprintf("repeated failure %q %d times, human intervention needed", t.LastFailureKey, t.ConsecutiveFailures)}, nil
	case dedup.VerdictCooldown:
		return Result{Defer: types.DeferCooldown}, nil
	}

	// 2. Already-done check.
	if d.TaskDelivered != nil {
		delivered, err := d.TaskDelivered(ctx, t.Repo, t.ID)
		if err != nil {
			return Result{}, fmt.Errorf("checking delivery for %s: %w", t.ID, err)
		}
		if delivered {
			return Result{Cancel: true, CancelReason: "already delivered upstream"}, nil
		}
	}

	// 3. Cross-repo misregistration check.
	if d.RegisteredRepo != nil {
		registeredRepo, err := d.RegisteredRepo(ctx, t.ID)
		if err != nil {
			return Result{}, fmt.Errorf("checking registration for %s: %w", t.ID, err)
		}
		if registeredRepo != "" && registeredRepo != scanningRepo {
			return Result{Defer: types.DeferSiblingPending}, nil
		}
	}

	// 4. Claim acquisition.
	if d.AcquireClaim != nil {
		granted, _, err := d.AcquireClaim(ctx, t.ID, host)
		if err != nil {
			return Result{}, fmt.Errorf("acquiring claim for %s: %w", t.ID, err)
		}
		if !granted {
			return Result{Defer: types.DeferClaimHeld}, nil
		}
	}

	// 5. Concurrency check.
	if d.CountRunning != nil {
		running, err := d.CountRunning(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("counting running tasks: %w", err)
		}
		if running >= concurrencyCap {
			return Result{Defer: types.DeferAtCapacity}, nil
		}
	}

	// 6. Provider health.
	if d.ProbeProvider != nil {
		health, err := d.ProbeProvider(ctx, string(t.ResolvedModel))
		if err != nil {
			return Result{}, fmt.Errorf("probing provider for %s: %w", t.ID, err)
		}
		switch health {
		case types.ProviderKeyInvalid:
			return Result{BlockReason: "provider reports invalid API key"}, nil
		case types.ProviderUnavailable, types.ProviderRateLimited:
			return Result{Defer: types.DeferProviderHealth}, nil
		}
	}

	// 7. Worktree.
	if d.AcquireWorktree != nil {
		path, err := d.AcquireWorktree(ctx, t)
		if err != nil {
			return Result{}, fmt.Errorf("acquiring worktree for %s: %w", t.ID, err)
		}
		t.WorktreePath = path
	}

	return Result{Proceed: true}, nil
}
