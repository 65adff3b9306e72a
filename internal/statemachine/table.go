// Package statemachine validates task transitions against the table-driven
// DAG defined in spec.md §4.2, and holds the two named guards
// (complete->deployed, reset).
package statemachine

import (
	"fmt"

	"github.com/pulseforge/supervisor/internal/types"
)

// Transitions maps each state to its legal successors. Unknown (from, to)
// pairs are rejected by Validate with the list of legal successors, as
// spec.md §4.2 requires.
var Transitions = map[types.State][]types.State{
	types.StateQueued:       {types.StateDispatched, types.StateCancelled},
	types.StateDispatched:   {types.StateRunning, types.StateCancelled, types.StateFailed},
	types.StateRunning:      {types.StateEvaluating, types.StateCancelled},
	types.StateEvaluating: {
		types.StateComplete, types.StateRetrying, types.StateBlocked, types.StateFailed, types.StateCancelled,
	},
	types.StateRetrying:     {types.StateDispatched, types.StateCancelled, types.StateFailed},
	types.StateComplete:     {types.StatePRReview, types.StateQueued, types.StateCancelled},
	types.StatePRReview:     {types.StateReviewTriage, types.StateCancelled},
	types.StateReviewTriage: {types.StateMerging, types.StateCancelled},
	types.StateMerging:      {types.StateMerged, types.StateCancelled},
	types.StateMerged:       {types.StateDeploying, types.StateCancelled},
	types.StateDeploying:    {types.StateDeployed, types.StateCancelled},
	types.StateDeployed:     {types.StateVerifying, types.StateQueued, types.StateCancelled},
	types.StateVerifying:    {types.StateVerified, types.StateVerifyFailed, types.StateCancelled},
	types.StateVerifyFailed: {types.StateQueued, types.StateCancelled},
	types.StateVerified:     {types.StateCancelled},
	types.StateBlocked:      {types.StateQueued, types.StateCancelled},
	types.StateFailed:       {types.StateQueued, types.StateCancelled},
	types.StateCancelled:    {types.StateQueued},
}

// pipelineStages is the designated subset of transitions for which the
// store additionally writes a proof-log entry recording wall-clock
// duration since the previous stage (spec.md §4.2).
var pipelineStages = map[[2]types.State]bool{
	{types.StateDispatched, types.StateRunning}:      true,
	{types.StateRunning, types.StateEvaluating}:      true,
	{types.StateEvaluating, types.StateComplete}:     true,
	{types.StateComplete, types.StatePRReview}:       true,
	{types.StatePRReview, types.StateReviewTriage}:   true,
	{types.StateReviewTriage, types.StateMerging}:    true,
	{types.StateMerging, types.StateMerged}:          true,
	{types.StateMerged, types.StateDeploying}:        true,
	{types.StateDeploying, types.StateDeployed}:       true,
	{types.StateDeployed, types.StateVerifying}:       true,
	{types.StateVerifying, types.StateVerified}:       true,
	{types.StateVerifying, types.StateVerifyFailed}:   true,
}

// IsPipelineStage reports whether (from, to) is one of the designated
// pipeline-stage transitions that also gets a proof-log row.
func IsPipelineStage(from, to types.State) bool {
	return pipelineStages[[2]types.State{from, to}]
}

// ErrInvalidTransition is returned by Validate for any (from, to) pair not
// present in Transitions.
type ErrInvalidTransition struct {
	From, To types.State
	Legal    []types.State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (legal successors of %s: %v)", e.From, e.To, e.From, e.Legal)
}

// Validate checks that (from, to) is a legal edge in the transition table.
// A same-state transition is always invalid -- it is not present in the
// table for any state -- matching the idempotence law in spec.md §8
// ("transition(x, S); transition(x, S) -- the second call is refused").
func Validate(from, to types.State) error {
	if !from.IsValid() {
		return fmt.Errorf("unknown from-state %q", from)
	}
	if !to.IsValid() {
		return fmt.Errorf("unknown to-state %q", to)
	}
	legal := Transitions[from]
	for _, s := range legal {
		if s == to {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to, Legal: legal}
}
