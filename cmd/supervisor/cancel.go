package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

var cancelCmd = &cobra.Command{
	Use:     "cancel <id>",
	GroupID: "lifecycle",
	Short:   "Cancel a task or every task in a batch",
	Args:    cobra.ExactArgs(1),
	RunE:    runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id := args[0]
	reason := "cancelled by " + a.identity

	if b, err := a.store.GetBatch(ctx, id); err == nil && b != nil {
		tasks, err := a.store.ListTasks(ctx, store.TaskFilter{BatchID: id})
		if err != nil {
			return fmt.Errorf("listing batch %s: %w", id, err)
		}
		n := 0
		for _, t := range tasks {
			if t.Status.Terminal() {
				continue
			}
			if err := a.store.Transition(ctx, t.ID, types.StateCancelled, reason, nil); err != nil {
				return fmt.Errorf("cancelling %s: %w", t.ID, err)
			}
			n++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d task(s) in batch %s\n", n, id)
		return nil
	}

	if err := a.store.Transition(ctx, id, types.StateCancelled, reason, nil); err != nil {
		return fmt.Errorf("cancelling %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", id)
	return nil
}
