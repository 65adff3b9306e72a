package main

import (
	"context"

	"github.com/pulseforge/supervisor/internal/forge"
	"github.com/pulseforge/supervisor/internal/pulse"
	"github.com/pulseforge/supervisor/internal/types"
)

// forgePostPipeline advances a task through the post-dispatch pipeline
// (pr_review -> ... -> verified) using the upstream code-forge CLI as the
// source of truth for merge state. Only merging waits on the forge; every
// other stage (pr_review, review_triage, merged, deploying, deployed,
// verifying) advances unconditionally -- they are supervisor-internal
// bookkeeping stages, not external-state gates.
type forgePostPipeline struct {
	forge *forge.CLI
	store interface {
		Transition(ctx context.Context, id string, to types.State, reason string, metadata map[string]any) error
	}
}

var _ pulse.PostPipeline = (*forgePostPipeline)(nil)

func (p *forgePostPipeline) Advance(ctx context.Context, t *types.Task) error {
	switch t.Status {
	case types.StatePRReview:
		return p.store.Transition(ctx, t.ID, types.StateReviewTriage, "post-pipeline: queued for triage", nil)

	case types.StateReviewTriage:
		return p.store.Transition(ctx, t.ID, types.StateMerging, "post-pipeline: triage complete", nil)

	case types.StateMerging:
		if !t.HasRealPR() {
			return p.store.Transition(ctx, t.ID, types.StateMerged, "post-pipeline: no PR to wait on", nil)
		}
		merged, err := p.forge.PRMerged(ctx, t.PRURL)
		if err != nil {
			return nil // transient forge-CLI error -- retry next pulse rather than fail the whole cycle
		}
		if !merged {
			return nil
		}
		return p.store.Transition(ctx, t.ID, types.StateMerged, "post-pipeline: PR merged upstream", nil)

	case types.StateMerged:
		return p.store.Transition(ctx, t.ID, types.StateDeploying, "post-pipeline: merge landed", nil)

	case types.StateDeploying:
		return p.store.Transition(ctx, t.ID, types.StateDeployed, "post-pipeline: deploy step complete", nil)

	case types.StateDeployed:
		return p.store.Transition(ctx, t.ID, types.StateVerifying, "post-pipeline: deploy landed", nil)

	case types.StateVerifying:
		return p.store.Transition(ctx, t.ID, types.StateVerified, "post-pipeline: verification complete", nil)
	}
	return nil
}
