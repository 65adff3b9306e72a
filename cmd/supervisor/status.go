package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/breaker"
	"github.com/pulseforge/supervisor/internal/statusui"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

var statusCmd = &cobra.Command{
	Use:     "status [task|batch]",
	GroupID: "views",
	Short:   "Show task, batch, or global pulse-loop status",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		return runGlobalStatus(cmd, a)
	}
	return runScopedStatus(cmd, a, args[0])
}

func runGlobalStatus(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	counts := map[types.State]int{}
	all, err := a.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	for _, t := range all {
		counts[t.Status]++
	}

	breakerState, err := a.breaker.Status()
	if err != nil {
		return fmt.Errorf("reading circuit breaker status: %w", err)
	}

	if jsonFlag(cmd) {
		out := map[string]any{
			"total":        len(all),
			"by_state":     counts,
			"breaker":      breakerState,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "total tasks: %d\n", len(all))
	for _, s := range types.ValidStates {
		if counts[s] == 0 {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %d\n", s, counts[s])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "circuit breaker: %s\n", breakerSummary(breakerState))
	return nil
}

func breakerSummary(s breaker.State) string {
	if s.Tripped {
		return "tripped"
	}
	return "closed"
}

func runScopedStatus(cmd *cobra.Command, a *app, id string) error {
	ctx := cmd.Context()

	if b, err := a.store.GetBatch(ctx, id); err == nil && b != nil {
		tasks, err := a.store.ListTasks(ctx, store.TaskFilter{BatchID: id})
		if err != nil {
			return fmt.Errorf("listing batch tasks: %w", err)
		}
		if jsonFlag(cmd) {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"batch": b, "tasks": tasks})
		}
		fmt.Fprintln(cmd.OutOrStdout(), statusui.RenderTaskTree(tasks))
		return nil
	}

	t, err := a.store.GetTask(ctx, id)
	if err != nil {
		return renderTaskMiss(cmd, a, id)
	}
	if jsonFlag(cmd) {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]\n", t.ID, t.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t.Description)
	fmt.Fprintf(cmd.OutOrStdout(), "  model: %s (requested %s)\n", t.ResolvedModel, t.RequestedTier)
	fmt.Fprintf(cmd.OutOrStdout(), "  retries: %d/%d  escalation: %d/%d\n", t.Retries, t.MaxRetries, t.EscalationDepth, t.MaxEscalation)
	if t.PRURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  pr: %s\n", t.PRURL)
	}
	if !t.LastFailureAt.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "  last failure: %s (%s, %d consecutive)\n", t.LastFailureAt.Format(time.RFC3339), t.LastFailureKey, t.ConsecutiveFailures)
	}
	return nil
}

func renderTaskMiss(cmd *cobra.Command, a *app, query string) error {
	ctx := cmd.Context()
	all, err := a.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return fmt.Errorf("task %q not found: %w", query, err)
	}
	ids := make([]string, 0, len(all))
	for _, t := range all {
		ids = append(ids, t.ID)
	}
	nearest, dist, ok := statusui.NearestTaskID(query, ids)
	vm := statusui.TaskLookupViewModel{Query: query, NoMatch: !ok}
	if ok {
		vm.TypoCorrection = nearest
		vm.TypoDistance = dist
	}
	fmt.Fprintln(cmd.OutOrStdout(), statusui.RenderTaskLookupBox(vm))
	return fmt.Errorf("task %q not found", query)
}
