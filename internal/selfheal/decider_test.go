package selfheal

import (
	"context"
	"testing"

	"github.com/pulseforge/supervisor/internal/types"
)

func TestStaticDeciderBlocksNonRetryableFailure(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{MaxRetries: 3}

	decision, err := d.Decide(context.Background(), task, types.OutcomeAuthError, "auth_error")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != ActionBlock {
		t.Errorf("expected ActionBlock for a non-retryable failure key, got %s", decision.Action)
	}
}

func TestStaticDeciderRetriesWithinBudget(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{Retries: 1, MaxRetries: 3}

	decision, err := d.Decide(context.Background(), task, types.OutcomeRateLimited, "rate_limited")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != ActionRetry {
		t.Errorf("expected ActionRetry while within the retry budget, got %s", decision.Action)
	}
}

func TestStaticDeciderDiagnosesInfrastructureFailures(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{Retries: 0, MaxRetries: 3}

	for _, outcome := range []types.OutcomeKind{types.OutcomeTimeout, types.OutcomeWorkerNeverStarted, types.OutcomeWorkerDispatchError} {
		decision, err := d.Decide(context.Background(), task, outcome, "some_key")
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if decision.Action != ActionDiagnose {
			t.Errorf("outcome %s: expected ActionDiagnose, got %s", outcome, decision.Action)
		}
	}
}

func TestStaticDeciderEscalatesWhenRetriesExhaustedButEscalationRemains(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{
		Retries: 3, MaxRetries: 3,
		EscalationDepth: 0, MaxEscalation: 1,
		RequestedTier: types.TierHaiku,
	}

	decision, err := d.Decide(context.Background(), task, types.OutcomeRateLimited, "rate_limited")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != ActionEscalate {
		t.Errorf("expected ActionEscalate once retries are exhausted but escalation budget remains, got %s", decision.Action)
	}
	if decision.NextTier != types.TierSonnet {
		t.Errorf("expected escalation from haiku to sonnet, got %s", decision.NextTier)
	}
}

func TestStaticDeciderEscalatesGeminiChainSeparately(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{
		Retries: 3, MaxRetries: 3,
		EscalationDepth: 0, MaxEscalation: 1,
		RequestedTier: types.TierFlash,
		ResolvedModel: "gemini-2.5-flash",
	}

	decision, err := d.Decide(context.Background(), task, types.OutcomeRateLimited, "rate_limited")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.NextTier != types.TierPro {
		t.Errorf("expected escalation from flash to pro on the Gemini chain, got %s", decision.NextTier)
	}
}

func TestStaticDeciderGivesUpWhenBothBudgetsExhausted(t *testing.T) {
	d := StaticDecider{}
	task := &types.Task{
		Retries: 3, MaxRetries: 3,
		EscalationDepth: 1, MaxEscalation: 1,
	}

	decision, err := d.Decide(context.Background(), task, types.OutcomeRateLimited, "rate_limited")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != ActionGiveUp {
		t.Errorf("expected ActionGiveUp once both retry and escalation budgets are exhausted, got %s", decision.Action)
	}
}
