package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/dispatch"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

var nextCmd = &cobra.Command{
	Use:     "next [batch] [limit]",
	GroupID: "views",
	Short:   "Emit the next dispatchable tasks, tab-separated, for a wrapper script to read",
	Args:    cobra.MaximumNArgs(2),
	RunE:    runNext,
}

func init() {
	rootCmd.AddCommand(nextCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var batchID string
	limit := 5
	if len(args) >= 1 {
		batchID = args[0]
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("limit must be an integer: %w", err)
		}
		limit = n
	}

	queued, err := a.store.ListTasks(ctx, store.TaskFilter{Status: types.StateQueued, BatchID: batchID})
	if err != nil {
		return fmt.Errorf("listing queued tasks: %w", err)
	}

	all, err := a.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	siblingsTerminal := func(id string) bool {
		parent, ok := types.ParentID(id)
		if !ok {
			return true
		}
		k, err := strconv.Atoi(id[len(parent)+1:])
		if err != nil {
			return true
		}
		for _, s := range all {
			sp, ok := types.ParentID(s.ID)
			if !ok || sp != parent {
				continue
			}
			if n, err := strconv.Atoi(s.ID[len(sp)+1:]); err == nil && n < k && !s.Status.Terminal() {
				return false
			}
		}
		return true
	}

	var candidates []*types.Task
	for _, t := range queued {
		if dispatch.Candidate(t, siblingsTerminal) {
			candidates = append(candidates, t)
		}
	}
	selected := dispatch.Select(candidates, limit)

	for _, t := range selected {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", t.ID, t.BatchID, t.RequestedTier, t.Description)
	}
	return nil
}
