package main

import (
	"context"

	"github.com/pulseforge/supervisor/internal/pulse"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/supervisorlog"
)

// logBatchFlush implements pulse.BatchFlush: once every task in a batch has
// reached a terminal state, it logs the batch's release intent exactly once.
// Actual release-note/tag creation is a code-forge-side action outside the
// core's direct control (spec.md §4.9 step 10) -- this step only records
// that the batch completed and what release policy it carried.
type logBatchFlush struct {
	store  store.Store
	logger *supervisorlog.Logger
}

var _ pulse.BatchFlush = (*logBatchFlush)(nil)

func (f *logBatchFlush) Flush(ctx context.Context, batchID string) error {
	tasks, err := f.store.ListTasks(ctx, store.TaskFilter{BatchID: batchID})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return nil // batch still has in-flight work, nothing to flush yet
		}
	}

	b, err := f.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil // batch row not yet registered -- nothing to flush
	}
	if b.TriggerRelease {
		f.logger.Cyclef(batchID, "complete, release type=%s skip-quality-gate=%v", b.ReleaseType, b.SkipQualityGate)
	} else {
		f.logger.Cyclef(batchID, "complete, no release triggered")
	}
	return nil
}
