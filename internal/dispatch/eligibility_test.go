package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulseforge/supervisor/internal/dedup"
	"github.com/pulseforge/supervisor/internal/types"
)

func baseDeps() Deps {
	return Deps{
		DedupGuard:      dedup.New(),
		TaskDelivered:   func(context.Context, string, string) (bool, error) { return false, nil },
		RegisteredRepo:  func(context.Context, string) (string, error) { return "", nil },
		AcquireClaim:    func(context.Context, string, string) (bool, bool, error) { return true, false, nil },
		CountRunning:    func(context.Context) (int, error) { return 0, nil },
		ProbeProvider:   func(context.Context, string) (types.ProviderHealth, error) { return types.ProviderHealthy, nil },
		AcquireWorktree: func(context.Context, *types.Task) (string, error) { return "/tmp/wt", nil },
	}
}

func TestEvaluateProceedsWhenAllStepsPass(t *testing.T) {
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}
	res, err := Evaluate(context.Background(), baseDeps(), task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Proceed {
		t.Errorf("expected Proceed, got %+v", res)
	}
	if task.WorktreePath != "/tmp/wt" {
		t.Errorf("expected the worktree path to be recorded on the task, got %q", task.WorktreePath)
	}
}

func TestEvaluateBlocksOnRepeatedFailure(t *testing.T) {
	now := time.Now()
	task := &types.Task{
		ID: "t1", Repo: "repo-a", MaxRetries: 3,
		LastFailureAt: now.Add(-time.Minute), LastFailureKey: "timeout", ConsecutiveFailures: 2,
	}
	res, err := Evaluate(context.Background(), baseDeps(), task, "repo-a", "host1", 5, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.BlockReason == "" {
		t.Errorf("expected a block reason for a repeatedly-failing task, got %+v", res)
	}
}

func TestEvaluateDefersDuringCooldown(t *testing.T) {
	now := time.Now()
	task := &types.Task{
		ID: "t1", Repo: "repo-a", MaxRetries: 3,
		LastFailureAt: now.Add(-time.Minute), LastFailureKey: "timeout", ConsecutiveFailures: 1,
	}
	res, err := Evaluate(context.Background(), baseDeps(), task, "repo-a", "host1", 5, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Defer != types.DeferCooldown {
		t.Errorf("expected cooldown defer, got %+v", res)
	}
}

func TestEvaluateCancelsAlreadyDeliveredTask(t *testing.T) {
	deps := baseDeps()
	deps.TaskDelivered = func(context.Context, string, string) (bool, error) { return true, nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Cancel {
		t.Errorf("expected Cancel for an already-delivered task, got %+v", res)
	}
}

func TestEvaluateDefersOnCrossRepoRegistration(t *testing.T) {
	deps := baseDeps()
	deps.RegisteredRepo = func(context.Context, string) (string, error) { return "repo-b", nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Defer != types.DeferSiblingPending {
		t.Errorf("expected sibling-pending defer for cross-repo registration, got %+v", res)
	}
}

func TestEvaluateDefersWhenClaimHeldElsewhere(t *testing.T) {
	deps := baseDeps()
	deps.AcquireClaim = func(context.Context, string, string) (bool, bool, error) { return false, false, nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Defer != types.DeferClaimHeld {
		t.Errorf("expected claim-held defer, got %+v", res)
	}
}

func TestEvaluateDefersAtConcurrencyCap(t *testing.T) {
	deps := baseDeps()
	deps.CountRunning = func(context.Context) (int, error) { return 5, nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Defer != types.DeferAtCapacity {
		t.Errorf("expected at-capacity defer, got %+v", res)
	}
}

func TestEvaluateBlocksOnInvalidProviderKey(t *testing.T) {
	deps := baseDeps()
	deps.ProbeProvider = func(context.Context, string) (types.ProviderHealth, error) { return types.ProviderKeyInvalid, nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.BlockReason == "" {
		t.Errorf("expected a block reason for an invalid provider key, got %+v", res)
	}
}

func TestEvaluateDefersOnUnhealthyProvider(t *testing.T) {
	deps := baseDeps()
	deps.ProbeProvider = func(context.Context, string) (types.ProviderHealth, error) { return types.ProviderRateLimited, nil }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	res, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Defer != types.DeferProviderHealth {
		t.Errorf("expected provider-health defer, got %+v", res)
	}
}

func TestEvaluatePropagatesCollaboratorError(t *testing.T) {
	deps := baseDeps()
	wantErr := errors.New("probe exploded")
	deps.ProbeProvider = func(context.Context, string) (types.ProviderHealth, error) { return "", wantErr }
	task := &types.Task{ID: "t1", Repo: "repo-a", MaxRetries: 3}

	_, err := Evaluate(context.Background(), deps, task, "repo-a", "host1", 5, time.Now())
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the collaborator error to propagate, got %v", err)
	}
}
