package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/selfheal"
	"github.com/pulseforge/supervisor/internal/types"
)

var selfHealCmd = &cobra.Command{
	Use:     "self-heal <id>",
	GroupID: "ops",
	Short:   "Manually run the self-heal decision pipeline for a failed task",
	Args:    cobra.ExactArgs(1),
	RunE:    runSelfHeal,
}

func init() {
	rootCmd.AddCommand(selfHealCmd)
}

func runSelfHeal(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id := args[0]

	t, err := a.store.GetTask(ctx, id)
	if err != nil {
		return renderTaskMiss(cmd, a, id)
	}

	var decider selfheal.Decider = selfheal.StaticDecider{}
	pd := a.buildPulseDeps(a.identity)
	if pd.Decider != nil {
		decider = pd.Decider
	}

	decision, err := decider.Decide(ctx, t, types.OutcomeKind(t.LastFailureKey), t.LastFailureKey)
	if err != nil {
		return fmt.Errorf("self-heal decision for %s: %w", id, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", t.ID, decision.Action, decision.Reason)

	switch decision.Action {
	case selfheal.ActionRetry:
		return a.store.Transition(ctx, t.ID, types.StateQueued, "self-heal: "+decision.Reason, nil)
	case selfheal.ActionEscalate:
		t.EscalationDepth++
		t.RequestedTier = decision.NextTier
		t.Retries = 0
		if err := a.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		return a.store.Transition(ctx, t.ID, types.StateQueued, "self-heal: escalate to "+string(decision.NextTier), nil)
	case selfheal.ActionDiagnose:
		if t.LiveDiagnostic != "" {
			return nil
		}
		diag := &types.Task{
			ID:           t.ID + ".diag",
			Repo:         t.Repo,
			Description:  "Diagnose failure of " + t.ID + ": " + decision.Reason,
			Status:       types.StateQueued,
			BatchID:      t.BatchID,
			MaxRetries:   t.MaxRetries,
			DiagnosticOf: t.ID,
		}
		if pd.Templates != nil {
			pd.Templates.Apply(diag, "diagnostic")
		}
		if err := a.store.CreateTask(ctx, diag); err != nil {
			return fmt.Errorf("spawning diagnostic for %s: %w", t.ID, err)
		}
		t.LiveDiagnostic = diag.ID
		return a.store.UpdateTask(ctx, t)
	case selfheal.ActionBlock:
		return a.store.Transition(ctx, t.ID, types.StateBlocked, "self-heal: "+decision.Reason, nil)
	case selfheal.ActionGiveUp:
		// The task is left in its current state, as the pulse loop's
		// self-heal step does.
		return nil
	}
	return nil
}
