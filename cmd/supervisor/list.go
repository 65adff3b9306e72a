package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/statusui"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "views",
	Short:   "List tasks, optionally filtered by state or batch",
	RunE:    runList,
}

func init() {
	listCmd.Flags().String("state", "", "filter by state (queued, running, failed, ...)")
	listCmd.Flags().String("batch", "", "filter by batch ID")
	listCmd.Flags().String("format", "", `output format ("json" or empty for table)`)
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stateFlag, _ := cmd.Flags().GetString("state")
	batchFlag, _ := cmd.Flags().GetString("batch")
	format, _ := cmd.Flags().GetString("format")

	filter := store.TaskFilter{BatchID: batchFlag}
	if stateFlag != "" {
		filter.Status = types.State(stateFlag)
	}

	tasks, err := a.store.ListTasks(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if format == "json" || jsonFlag(cmd) {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	rows := make([]statusui.TaskRow, 0, len(tasks))
	for _, t := range tasks {
		model := t.ResolvedModel
		if model == "" {
			model = string(t.RequestedTier)
		}
		rows = append(rows, statusui.TaskRow{
			ID:          t.ID,
			Description: t.Description,
			Status:      string(t.Status),
			Model:       model,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), statusui.RenderTaskTable(rows, statusui.GetWidth()))
	return nil
}
