package main

import (
	"context"
	"time"

	"github.com/pulseforge/supervisor/internal/git"
	"github.com/pulseforge/supervisor/internal/pulse"
	"github.com/pulseforge/supervisor/internal/store"
)

// routineMaintenance implements pulse.Maintenance: it releases worktrees of
// tasks that reached a terminal state and prunes the dedup/stale-recovery
// logs beyond their retention window (spec.md §4.9 step 9).
type routineMaintenance struct {
	store store.Store
	wt    *git.WorktreeManager
}

var _ pulse.Maintenance = (*routineMaintenance)(nil)

const logRetention = 14 * 24 * time.Hour

func (m *routineMaintenance) Run(ctx context.Context) error {
	tasks, err := m.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() || t.WorktreePath == "" {
			continue
		}
		if err := m.wt.Release(t.WorktreePath); err != nil {
			continue // best effort -- a leaked worktree isn't worth failing the pulse over
		}
		t.WorktreePath = ""
		_ = m.store.UpdateTask(ctx, t)
	}

	if err := m.store.PruneDedupLog(ctx, logRetention); err != nil {
		return err
	}
	return m.store.PruneStaleRecoveryLog(ctx, logRetention)
}
