package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/statemachine"
	"github.com/pulseforge/supervisor/internal/types"
)

var resetCmd = &cobra.Command{
	Use:     "reset <id>",
	GroupID: "lifecycle",
	Short:   "Reset a task to queued, refusing tasks already delivered upstream",
	Args:    cobra.ExactArgs(1),
	RunE:    runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id := args[0]

	t, err := a.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("task %s not found: %w", id, err)
	}

	if err := statemachine.GuardReset(ctx, t, a.forge); err != nil {
		return err
	}

	t.Retries = 0
	t.EscalationDepth = 0
	t.ConsecutiveFailures = 0
	t.LastFailureKey = ""
	if err := a.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("clearing retry counters for %s: %w", id, err)
	}

	if err := a.store.Transition(ctx, id, types.StateQueued, "administrative reset by "+a.identity, nil); err != nil {
		return fmt.Errorf("resetting %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s reset to queued\n", id)
	return nil
}
