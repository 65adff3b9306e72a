package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

func allTerminal(string) bool { return true }

func TestCandidateRequiresQueuedAndEligible(t *testing.T) {
	running := &types.Task{ID: "t1", Status: types.StateRunning, MaxRetries: 3}
	if Candidate(running, allTerminal) {
		t.Error("a running task should never be a dispatch candidate")
	}

	exhausted := &types.Task{ID: "t2", Status: types.StateQueued, Retries: 3, MaxRetries: 3}
	if Candidate(exhausted, allTerminal) {
		t.Error("a task with no retry budget left should not be a candidate")
	}

	eligible := &types.Task{ID: "t3", Status: types.StateQueued, Retries: 0, MaxRetries: 3}
	if !Candidate(eligible, allTerminal) {
		t.Error("a queued, eligible task with terminal siblings should be a candidate")
	}
}

func TestCandidateRespectsSiblingOrdering(t *testing.T) {
	task := &types.Task{ID: "t1.2", Status: types.StateQueued, MaxRetries: 3}
	if Candidate(task, func(string) bool { return false }) {
		t.Error("a subtask with non-terminal siblings should not be a candidate")
	}
	if !Candidate(task, func(string) bool { return true }) {
		t.Error("a subtask with terminal siblings should be a candidate")
	}
}

func TestSelectGuaranteesOneSlotPerRepo(t *testing.T) {
	now := time.Now()
	pool := []*types.Task{
		{ID: "a1", Repo: "repo-a", CreatedAt: now},
		{ID: "a2", Repo: "repo-a", CreatedAt: now.Add(time.Second)},
		{ID: "b1", Repo: "repo-b", CreatedAt: now},
	}
	out := Select(pool, 2)
	repos := map[string]bool{}
	for _, t := range out {
		repos[t.Repo] = true
	}
	if !repos["repo-a"] || !repos["repo-b"] {
		t.Errorf("expected one slot guaranteed per repo, got %v", out)
	}
}

func TestSelectNeverExceedsN(t *testing.T) {
	now := time.Now()
	var pool []*types.Task
	for i := 0; i < 10; i++ {
		pool = append(pool, &types.Task{ID: string(rune('a' + i)), Repo: "repo", CreatedAt: now})
	}
	out := Select(pool, 3)
	if len(out) != 3 {
		t.Errorf("expected exactly 3 selected, got %d", len(out))
	}
}

func TestSelectEmptyPool(t *testing.T) {
	if out := Select(nil, 5); out != nil {
		t.Errorf("expected nil for an empty pool, got %v", out)
	}
	if out := Select([]*types.Task{{ID: "a"}}, 0); out != nil {
		t.Errorf("expected nil when n <= 0, got %v", out)
	}
}

func TestSelectPrefersFewerRetriesThenOlderAge(t *testing.T) {
	now := time.Now()
	pool := []*types.Task{
		{ID: "new-low-retry", Repo: "repo", Retries: 0, CreatedAt: now},
		{ID: "old-high-retry", Repo: "repo", Retries: 2, CreatedAt: now.Add(-time.Hour)},
	}
	out := Select(pool, 1)
	if len(out) != 1 || out[0].ID != "new-low-retry" {
		t.Errorf("expected the lower-retry task to be preferred, got %v", out)
	}
}

func TestEffectiveConcurrencyClampsToHardCap(t *testing.T) {
	if got := EffectiveConcurrency(10, 1.0, 3); got != 3 {
		t.Errorf("expected hard cap of 3 to clamp, got %d", got)
	}
}

func TestEffectiveConcurrencyNeverBelowOne(t *testing.T) {
	if got := EffectiveConcurrency(1, 0.1, 10); got < 1 {
		t.Errorf("effective concurrency should never drop below 1, got %d", got)
	}
}

func TestEffectiveConcurrencyDefaultsHardCapFromCPUs(t *testing.T) {
	got := EffectiveConcurrency(1000, 1.0, 0)
	if got <= 0 {
		t.Errorf("expected a positive machine-derived cap, got %d", got)
	}
}

func TestLoadFactorSaturationLowersFactor(t *testing.T) {
	idle := LoadFactor(0, 10)
	saturated := LoadFactor(10, 10)
	if !(saturated < idle) {
		t.Errorf("a saturated system should scale down future batches relative to idle, got idle=%f saturated=%f", idle, saturated)
	}
	if saturated < 0.25 {
		t.Errorf("LoadFactor should never drop below its floor of 0.25, got %f", saturated)
	}
}

func TestLoadFactorZeroCapReturnsFullFactor(t *testing.T) {
	if got := LoadFactor(5, 0); got != 1.0 {
		t.Errorf("a zero concurrency cap should return the unclamped factor 1.0, got %f", got)
	}
}

func TestRecountRunningUnderCap(t *testing.T) {
	ok, running, err := RecountRunning(context.Background(), func(context.Context) (int, error) { return 2, nil }, 5)
	if err != nil || !ok || running != 2 {
		t.Errorf("expected ok=true running=2, got ok=%v running=%d err=%v", ok, running, err)
	}
}

func TestRecountRunningAtCap(t *testing.T) {
	ok, running, err := RecountRunning(context.Background(), func(context.Context) (int, error) { return 5, nil }, 5)
	if err != nil || ok {
		t.Errorf("expected ok=false once running meets the cap, got ok=%v running=%d err=%v", ok, running, err)
	}
}

func TestRecountRunningPropagatesError(t *testing.T) {
	wantErr := errors.New("count failed")
	_, _, err := RecountRunning(context.Background(), func(context.Context) (int, error) { return 0, wantErr }, 5)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the counting error to propagate, got %v", err)
	}
}
