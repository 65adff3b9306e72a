package dedup

import (
	"testing"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

func TestNormalizeFailureKey(t *testing.T) {
	cases := map[string]string{
		"timeout: worker exceeded hung threshold": "timeout",
		"no colon here":                            "no colon here",
		"  leading space: detail":                  "leading space",
		"":                                         "",
	}
	for in, want := range cases {
		if got := NormalizeFailureKey(in); got != want {
			t.Errorf("NormalizeFailureKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGuardCheckNeverFailed(t *testing.T) {
	g := New()
	task := &types.Task{}
	if v := g.Check(task, time.Now()); v != VerdictProceed {
		t.Errorf("expected proceed for a task with no recorded failure, got %s", v)
	}
}

func TestGuardCheckCooldownExpired(t *testing.T) {
	g := New()
	now := time.Now()
	task := &types.Task{LastFailureAt: now.Add(-g.Cooldown - time.Minute), ConsecutiveFailures: 1}
	if v := g.Check(task, now); v != VerdictProceed {
		t.Errorf("expected proceed once cooldown has elapsed, got %s", v)
	}
}

func TestGuardCheckWithinCooldownUnderThreshold(t *testing.T) {
	g := New()
	now := time.Now()
	task := &types.Task{LastFailureAt: now.Add(-time.Minute), ConsecutiveFailures: 1}
	if v := g.Check(task, now); v != VerdictCooldown {
		t.Errorf("expected cooldown while under the consecutive-failure threshold, got %s", v)
	}
}

func TestGuardCheckWithinCooldownAtThreshold(t *testing.T) {
	g := New()
	now := time.Now()
	task := &types.Task{LastFailureAt: now.Add(-time.Minute), ConsecutiveFailures: g.MaxConsecutive}
	if v := g.Check(task, now); v != VerdictBlock {
		t.Errorf("expected block once consecutive failures reach the max, got %s", v)
	}
}

func TestRecordFailureSameKeyIncrements(t *testing.T) {
	task := &types.Task{}
	now := time.Now()

	RecordFailure(task, "timeout", now)
	if task.ConsecutiveFailures != 1 {
		t.Fatalf("first failure should set count to 1, got %d", task.ConsecutiveFailures)
	}

	later := now.Add(time.Minute)
	RecordFailure(task, "timeout", later)
	if task.ConsecutiveFailures != 2 {
		t.Errorf("same failure key should increment count, got %d", task.ConsecutiveFailures)
	}
	if task.LastFailureAt != later {
		t.Errorf("LastFailureAt should be updated to the latest failure time")
	}
}

func TestRecordFailureNewKeyResets(t *testing.T) {
	task := &types.Task{}
	now := time.Now()

	RecordFailure(task, "timeout", now)
	RecordFailure(task, "timeout", now.Add(time.Minute))
	RecordFailure(task, "panic", now.Add(2*time.Minute))

	if task.ConsecutiveFailures != 1 {
		t.Errorf("a new failure key should reset the consecutive count, got %d", task.ConsecutiveFailures)
	}
	if task.LastFailureKey != "panic" {
		t.Errorf("LastFailureKey should track the most recent key, got %q", task.LastFailureKey)
	}
}

func TestRecordSuccessClearsFailureState(t *testing.T) {
	task := &types.Task{
		LastFailureAt:       time.Now(),
		LastFailureKey:      "timeout",
		ConsecutiveFailures: 3,
	}
	RecordSuccess(task)

	if !task.LastFailureAt.IsZero() || task.LastFailureKey != "" || task.ConsecutiveFailures != 0 {
		t.Errorf("RecordSuccess should clear all failure-tracking fields, got %+v", task)
	}
}
