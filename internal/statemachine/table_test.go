package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/pulseforge/supervisor/internal/types"
)

func TestValidateAcceptsLegalTransition(t *testing.T) {
	if err := Validate(types.StateQueued, types.StateDispatched); err != nil {
		t.Errorf("queued -> dispatched should be legal, got %v", err)
	}
}

func TestValidateRejectsIllegalTransition(t *testing.T) {
	err := Validate(types.StateQueued, types.StateVerified)
	if err == nil {
		t.Fatal("expected an error for an illegal transition")
	}
	var invalid *ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidTransition, got %T", err)
	}
	if invalid.From != types.StateQueued || invalid.To != types.StateVerified {
		t.Errorf("unexpected transition recorded on error: %+v", invalid)
	}
}

func TestValidateRejectsSameStateTransition(t *testing.T) {
	if err := Validate(types.StateRunning, types.StateRunning); err == nil {
		t.Error("a same-state transition should always be refused")
	}
}

func TestValidateRejectsUnknownStates(t *testing.T) {
	if err := Validate(types.State("bogus"), types.StateQueued); err == nil {
		t.Error("expected an error for an unknown from-state")
	}
	if err := Validate(types.StateQueued, types.State("bogus")); err == nil {
		t.Error("expected an error for an unknown to-state")
	}
}

func TestIsPipelineStage(t *testing.T) {
	if !IsPipelineStage(types.StateDispatched, types.StateRunning) {
		t.Error("dispatched -> running should be a pipeline stage")
	}
	if IsPipelineStage(types.StateQueued, types.StateDispatched) {
		t.Error("queued -> dispatched should not be a pipeline stage")
	}
}

type fakeForge struct {
	merged    bool
	delivered bool
	err       error
}

func (f fakeForge) PRMerged(context.Context, string) (bool, error)             { return f.merged, f.err }
func (f fakeForge) TaskDelivered(context.Context, string, string) (bool, error) { return f.delivered, f.err }

func TestGuardDeployedAllowsTasksWithoutRealPR(t *testing.T) {
	task := &types.Task{PRURL: types.PRNone}
	if err := GuardDeployed(context.Background(), task, fakeForge{}); err != nil {
		t.Errorf("a task without a real PR should never be blocked, got %v", err)
	}
}

func TestGuardDeployedBlocksUnmergedPR(t *testing.T) {
	task := &types.Task{PRURL: "https://github.com/acme/repo/pull/42"}
	err := GuardDeployed(context.Background(), task, fakeForge{merged: false})
	var blocked *ErrGuardBlocked
	if !errors.As(err, &blocked) {
		t.Fatalf("expected ErrGuardBlocked for an unmerged PR, got %v", err)
	}
}

func TestGuardDeployedAllowsMergedPR(t *testing.T) {
	task := &types.Task{PRURL: "https://github.com/acme/repo/pull/42"}
	if err := GuardDeployed(context.Background(), task, fakeForge{merged: true}); err != nil {
		t.Errorf("a merged PR should not be blocked, got %v", err)
	}
}

func TestGuardResetBlocksDeliveredTask(t *testing.T) {
	task := &types.Task{ID: "t1", Repo: "repo-a"}
	err := GuardReset(context.Background(), task, fakeForge{delivered: true})
	var blocked *ErrGuardBlocked
	if !errors.As(err, &blocked) {
		t.Fatalf("expected ErrGuardBlocked for an already-delivered task, got %v", err)
	}
}

func TestGuardResetAllowsUndeliveredTask(t *testing.T) {
	task := &types.Task{ID: "t1", Repo: "repo-a"}
	if err := GuardReset(context.Background(), task, fakeForge{delivered: false}); err != nil {
		t.Errorf("an undelivered task should not be blocked, got %v", err)
	}
}

func TestGuardResetPropagatesForgeError(t *testing.T) {
	task := &types.Task{ID: "t1", Repo: "repo-a"}
	wantErr := errors.New("gh unavailable")
	_, err := fakeForge{err: wantErr}.TaskDelivered(context.Background(), "repo-a", "t1")
	if !errors.Is(err, wantErr) {
		t.Fatalf("sanity check on fakeForge failed: %v", err)
	}
	if err := GuardReset(context.Background(), task, fakeForge{err: wantErr}); !errors.Is(err, wantErr) {
		t.Errorf("expected the forge error to propagate, got %v", err)
	}
}
