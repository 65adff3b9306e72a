// Package selfheal decides what the pulse loop should do with a failed or
// stuck task: retry as-is, escalate to a richer model, spawn a diagnostic
// subtask, or give up and block for a human. It is deliberately decoupled
// from the store and the dispatcher so either decision strategy can be
// exercised in isolation.
package selfheal

import (
	"context"
	"strings"

	"github.com/pulseforge/supervisor/internal/types"
)

// Action is the self-heal decision returned for a failed task.
type Action string

const (
	ActionRetry      Action = "retry"
	ActionEscalate   Action = "escalate"
	ActionDiagnose   Action = "diagnose"
	ActionBlock      Action = "block"
	ActionGiveUp     Action = "give_up"
)

// Decision is a Decider's full answer: what to do, and why, for the proof log.
type Decision struct {
	Action Action
	Reason string
	// NextTier is set when Action == ActionEscalate.
	NextTier types.ModelTier
}

// Decider chooses the self-heal action for a task that just failed
// evaluation. Implementations must not mutate t.
type Decider interface {
	Decide(ctx context.Context, t *types.Task, outcome types.OutcomeKind, failureKey string) (Decision, error)
}

// StaticDecider is the deterministic fallback: pure rules over retry count,
// escalation budget, and whether the failure kind is in the non-retryable
// set (spec.md §4.4, §4.5). It never calls out to a model and is always
// available, so the pulse loop can fall back to it when AnthropicDecider's
// budget or API is unavailable.
type StaticDecider struct{}

func (StaticDecider) Decide(_ context.Context, t *types.Task, outcome types.OutcomeKind, failureKey string) (Decision, error) {
	if types.NonRetryable[failureKey] {
		return Decision{Action: ActionBlock, Reason: "non-retryable failure key: " + failureKey}, nil
	}
	// A quality-gate failure (internal/evaluator.Check) explicitly asks for
	// escalation rather than a plain retry at the same tier, regardless of
	// remaining retry budget.
	if strings.HasPrefix(failureKey, "needs_escalation") {
		if t.EscalationDepth < t.MaxEscalation {
			return Decision{Action: ActionEscalate, Reason: "quality gate failed: " + failureKey, NextTier: nextTier(t.RequestedTier, t.ResolvedModel)}, nil
		}
		return Decision{Action: ActionGiveUp, Reason: "quality gate failed and escalation budget exhausted"}, nil
	}
	if !t.Eligible() {
		if t.EscalationDepth < t.MaxEscalation {
			next := nextTier(t.RequestedTier, t.ResolvedModel)
			return Decision{Action: ActionEscalate, Reason: "retry budget exhausted, escalation budget remains", NextTier: next}, nil
		}
		return Decision{Action: ActionGiveUp, Reason: "retry and escalation budgets both exhausted"}, nil
	}
	switch outcome {
	case types.OutcomeTimeout, types.OutcomeWorkerNeverStarted, types.OutcomeWorkerDispatchError:
		return Decision{Action: ActionDiagnose, Reason: "infrastructure-class failure: " + string(outcome)}, nil
	default:
		return Decision{Action: ActionRetry, Reason: "within retry budget"}, nil
	}
}

// nextTier advances a model tier one step up its escalation chain (spec.md
// §4.3). It falls back to the Anthropic chain unless the resolved model
// string looks like a Gemini model.
func nextTier(requested types.ModelTier, resolved string) types.ModelTier {
	chain := types.AnthropicEscalation
	if looksLikeGemini(resolved) {
		chain = types.GeminiEscalation
	}
	for i, tier := range chain {
		if tier == requested && i+1 < len(chain) {
			return chain[i+1]
		}
	}
	if len(chain) > 0 {
		return chain[len(chain)-1]
	}
	return requested
}

func looksLikeGemini(model string) bool {
	for _, prefix := range []string{"gemini", "flash", "pro"} {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
