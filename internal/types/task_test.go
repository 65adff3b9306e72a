package types

import "testing"

func TestStateIsValid(t *testing.T) {
	if !StateQueued.IsValid() {
		t.Error("queued should be a valid state")
	}
	if State("bogus").IsValid() {
		t.Error("an unknown state string should not be valid")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateVerified, StateCancelled, StateFailed, StateBlocked}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []State{StateQueued, StateDispatched, StateRunning, StateEvaluating, StatePRReview}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestIsSubtask(t *testing.T) {
	if IsSubtask("t400") {
		t.Error("a plain ID should not be a subtask")
	}
	if !IsSubtask("t400.2") {
		t.Error("a dotted ID should be a subtask")
	}
}

func TestParentID(t *testing.T) {
	parent, ok := ParentID("t400.2")
	if !ok || parent != "t400" {
		t.Errorf("expected parent t400, ok=true, got parent=%q ok=%v", parent, ok)
	}
	parent, ok = ParentID("t400.2.1")
	if !ok || parent != "t400.2" {
		t.Errorf("expected parent t400.2 for a nested subtask, got parent=%q ok=%v", parent, ok)
	}
	if _, ok := ParentID("t400"); ok {
		t.Error("a plain ID should have no parent")
	}
}

func TestTaskEligible(t *testing.T) {
	task := &Task{Retries: 2, MaxRetries: 3}
	if !task.Eligible() {
		t.Error("a task under its retry cap should be eligible")
	}
	task.Retries = 3
	if task.Eligible() {
		t.Error("a task at its retry cap should not be eligible")
	}
}

func TestTaskHasRealPR(t *testing.T) {
	cases := map[string]bool{
		"":                                  false,
		PRNone:                              false,
		PRTaskOnly:                          false,
		PRVerifiedComplete:                  false,
		"https://github.com/acme/repo/pull/1": true,
	}
	for url, want := range cases {
		task := &Task{PRURL: url}
		if got := task.HasRealPR(); got != want {
			t.Errorf("HasRealPR() for PRURL=%q = %v, want %v", url, got, want)
		}
	}
}

func TestIsSentinelPR(t *testing.T) {
	if !IsSentinelPR("") || !IsSentinelPR(PRNone) || !IsSentinelPR(PRTaskOnly) || !IsSentinelPR(PRVerifiedComplete) {
		t.Error("all sentinel values should report as sentinel PRs")
	}
	if IsSentinelPR("https://github.com/acme/repo/pull/99") {
		t.Error("a real PR URL should not report as a sentinel")
	}
}
