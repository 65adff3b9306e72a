package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/types"
)

var transitionCmd = &cobra.Command{
	Use:     "transition <id> <state>",
	GroupID: "lifecycle",
	Short:   "Apply a state transition to a task, validated against the lifecycle state machine",
	Args:    cobra.ExactArgs(2),
	RunE:    runTransition,
}

func init() {
	transitionCmd.Flags().String("error", "", "error/reason text recorded with the transition")
	rootCmd.AddCommand(transitionCmd)
}

func runTransition(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	id, to := args[0], types.State(args[1])
	if !to.IsValid() {
		return fmt.Errorf("%q is not a valid task state", args[1])
	}

	reason, _ := cmd.Flags().GetString("error")
	if reason == "" {
		reason = "cli transition by " + a.identity
	}

	if err := a.store.Transition(cmd.Context(), id, to, reason, nil); err != nil {
		return fmt.Errorf("transitioning %s to %s: %w", id, to, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", id, to)
	return nil
}
