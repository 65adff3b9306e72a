package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/types"
)

var repromptCmd = &cobra.Command{
	Use:     "reprompt <id>",
	GroupID: "ops",
	Short:   "Re-queue a task, optionally overriding its worker prompt text",
	Args:    cobra.ExactArgs(1),
	RunE:    runReprompt,
}

func init() {
	repromptCmd.Flags().String("prompt", "", "replacement prompt text; if empty, repeats the task's existing description")
	rootCmd.AddCommand(repromptCmd)
}

func runReprompt(cmd *cobra.Command, args []string) error {
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

	prompt, _ := cmd.Flags().GetString("prompt")
	if prompt != "" {
		t.Description = prompt
	}
	t.PromptRepeatDone = true
	t.WorkerSession = ""
	t.WorktreePath = ""
	if err := a.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("updating %s for reprompt: %w", id, err)
	}

	if err := a.store.Transition(ctx, id, types.StateQueued, "reprompted by "+a.identity, nil); err != nil {
		return fmt.Errorf("re-queueing %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s re-queued with prompt repeated\n", id)
	return nil
}
