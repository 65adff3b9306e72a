// Package sanity implements the Phase 0.9 reconciliation sweep (spec.md
// §4.6): four checks that run when the queue looks stalled (zero
// dispatchable tasks despite open tasks), each reporting how many fixes it
// applied.
package sanity

import (
	"context"
	"fmt"

	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

// Report is the structured stall breakdown emitted when no check finds
// anything to fix, so the dead queue is visible rather than silent.
type Report struct {
	OpenCount      int
	ClaimedCount   int
	BlockedCount   int
	MissingTagCount int
	DBFailedCount  int
}

// Backlog is the narrow surface sanity needs from the Markdown backlog
// (internal/backlog), kept as an interface so this package doesn't import
// it directly.
type Backlog interface {
	HasClaim(taskID string) (assignee string, hasClaim bool)
	StripClaim(taskID string) error
	BlockedBy(taskID string) []string
	RemoveBlocker(taskID, blockerID string) error
	IsDispatchable(taskID string) (modelAssigned, hasEstimate, isPlanOrInvestigation bool)
	HasTag(taskID, tag string) bool
	AddTag(taskID, tag string) error
	HasLine(taskID string) bool
}

// Host identifies this supervisor instance for claim-ownership comparison.
type Host string

// CheckDBFailedWithClaim implements check 1: a task the DB reports
// failed/blocked but whose backlog line still shows a claim. If the claim
// belongs to this host, it's stripped; if retries remain, the task is
// reset to queued.
func CheckDBFailedWithClaim(ctx context.Context, st store.Store, bl Backlog, host Host) (fixed int, err error) {
	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status != types.StateFailed && t.Status != types.StateBlocked {
			continue
		}
		assignee, hasClaim := bl.HasClaim(t.ID)
		if !hasClaim {
			continue
		}
		if assignee == string(host) {
			if err := bl.StripClaim(t.ID); err != nil {
				return fixed, fmt.Errorf("stripping claim for %s: %w", t.ID, err)
			}
			fixed++
		}
		if t.Eligible() {
			if err := st.Transition(ctx, t.ID, types.StateQueued, "sanity: db-failed-with-claim reset", nil); err != nil {
				return fixed, fmt.Errorf("resetting %s: %w", t.ID, err)
			}
			fixed++
		}
	}
	return fixed, nil
}

// CheckFailedBlockerChains implements check 2: for every open task with a
// blocked-by dependency, reset a failed-with-retries-remaining dependency,
// or unblock the dependent by removing an exhausted one.
func CheckFailedBlockerChains(ctx context.Context, st store.Store, bl Backlog) (fixed int, err error) {
	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing tasks: %w", err)
	}
	byID := map[string]*types.Task{}
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		for _, blockerID := range bl.BlockedBy(t.ID) {
			dep, ok := byID[blockerID]
			if !ok || dep.Status != types.StateFailed {
				continue
			}
			if dep.Eligible() {
				if err := st.Transition(ctx, dep.ID, types.StateQueued, "sanity: failed-blocker-chain reset", nil); err != nil {
					return fixed, fmt.Errorf("resetting blocker %s: %w", dep.ID, err)
				}
				fixed++
			} else {
				if err := bl.RemoveBlocker(t.ID, blockerID); err != nil {
					return fixed, fmt.Errorf("unblocking %s from %s: %w", t.ID, blockerID, err)
				}
				fixed++
			}
		}
	}
	return fixed, nil
}

// CheckMissingDispatchTag implements check 3: tasks that look dispatchable
// (model assigned, estimate present, no blockers, no claim, not a
// plan/investigation) but lack the #auto-dispatch tag get it added.
func CheckMissingDispatchTag(ctx context.Context, st store.Store, bl Backlog) (fixed int, err error) {
	tasks, err := st.ListTasks(ctx, store.TaskFilter{Status: types.StateQueued})
	if err != nil {
		return 0, fmt.Errorf("listing queued tasks: %w", err)
	}
	for _, t := range tasks {
		if len(t.BlockedBy) > 0 || t.Assignee != "" {
			continue
		}
		modelAssigned, hasEstimate, isPlanOrInvestigation := bl.IsDispatchable(t.ID)
		if !modelAssigned || !hasEstimate || isPlanOrInvestigation {
			continue
		}
		if bl.HasTag(t.ID, "#auto-dispatch") {
			continue
		}
		if err := bl.AddTag(t.ID, "#auto-dispatch"); err != nil {
			return fixed, fmt.Errorf("tagging %s: %w", t.ID, err)
		}
		fixed++
	}
	return fixed, nil
}

// CheckDBOrphans implements check 4: non-terminal DB rows with no matching
// backlog line are cancelled.
func CheckDBOrphans(ctx context.Context, st store.Store, bl Backlog) (fixed int, err error) {
	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		if bl.HasLine(t.ID) {
			continue
		}
		if err := st.Transition(ctx, t.ID, types.StateCancelled, "DB orphan", nil); err != nil {
			return fixed, fmt.Errorf("cancelling orphan %s: %w", t.ID, err)
		}
		fixed++
	}
	return fixed, nil
}

// Run executes all four checks in order, and -- only if none of them found
// anything to fix -- builds the structured stall Report.
func Run(ctx context.Context, st store.Store, bl Backlog, host Host) (totalFixed int, report *Report, err error) {
	steps := []func(context.Context, store.Store, Backlog) (int, error){
		func(ctx context.Context, st store.Store, bl Backlog) (int, error) { return CheckDBFailedWithClaim(ctx, st, bl, host) },
		CheckFailedBlockerChains,
		CheckMissingDispatchTag,
		CheckDBOrphans,
	}
	for _, step := range steps {
		n, err := step(ctx, st, bl)
		if err != nil {
			return totalFixed, nil, err
		}
		totalFixed += n
	}
	if totalFixed > 0 {
		return totalFixed, nil, nil
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return totalFixed, nil, fmt.Errorf("building stall report: %w", err)
	}
	rep := &Report{}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			rep.OpenCount++
		}
		if t.Assignee != "" {
			rep.ClaimedCount++
		}
		if t.Status == types.StateBlocked {
			rep.BlockedCount++
		}
		if t.Status == types.StateFailed {
			rep.DBFailedCount++
		}
		if t.Status == types.StateQueued && !bl.HasTag(t.ID, "#auto-dispatch") {
			rep.MissingTagCount++
		}
	}
	return totalFixed, rep, nil
}
