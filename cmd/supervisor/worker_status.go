package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/worker"
)

var workerStatusCmd = &cobra.Command{
	Use:     "worker-status <id>",
	GroupID: "views",
	Short:   "Report the heartbeat and hung state of a running task's worker",
	Args:    cobra.ExactArgs(1),
	RunE:    runWorkerStatus,
}

func init() {
	rootCmd.AddCommand(workerStatusCmd)
}

func runWorkerStatus(cmd *cobra.Command, args []string) error {
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

	if t.LogPath == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no worker log on record (status: %s)\n", t.ID, t.Status)
		return nil
	}

	now := time.Now().UTC()
	lastBeat, err := worker.LastHeartbeat(t.LogPath)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no heartbeat found in %s (%v)\n", t.ID, t.LogPath, err)
		return nil
	}

	timeout := worker.HungTimeout(t.EvaluationDur)
	hung := worker.IsHung(lastBeat, timeout, now)

	if jsonFlag(cmd) {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"id":             t.ID,
			"status":         string(t.Status),
			"log_path":       t.LogPath,
			"last_heartbeat": lastBeat,
			"hung_timeout":   timeout.String(),
			"hung":           hung,
		})
	}

	state := "alive"
	if hung {
		state = "hung"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] last heartbeat %s ago, hung-timeout %s -> %s\n",
		t.ID, t.Status, now.Sub(lastBeat).Round(time.Second), timeout, state)
	return nil
}
