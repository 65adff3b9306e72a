package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/dispatch"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

// Exit codes for `dispatch`, per spec.md §6's CLI surface.
const (
	exitDispatchOK       = 0
	exitDispatchHardFail = 1
	exitDispatchAtCap    = 2
	exitDispatchDeferred = 3
	exitTempFail         = 75 // EX_TEMPFAIL: defer without double-incrementing retry
)

var dispatchCmd = &cobra.Command{
	Use:     "dispatch <id>",
	GroupID: "lifecycle",
	Short:   "Run the single-task eligibility pipeline and dispatch if eligible",
	Args:    cobra.ExactArgs(1),
	RunE:    runDispatchCmd,
}

func init() {
	dispatchCmd.Flags().String("batch", "", "batch ID the task must belong to; a task from another batch is refused")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatchCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id := args[0]

	t, err := a.store.GetTask(ctx, id)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "task %s not found: %v\n", id, err)
		os.Exit(exitDispatchHardFail)
	}
	if batch, _ := cmd.Flags().GetString("batch"); batch != "" && t.BatchID != batch {
		fmt.Fprintf(cmd.ErrOrStderr(), "task %s belongs to batch %s, not %s\n", t.ID, t.BatchID, batch)
		os.Exit(exitDispatchHardFail)
	}
	if !t.Eligible() {
		fmt.Fprintf(cmd.ErrOrStderr(), "task %s has exhausted its retry budget (%d/%d)\n", t.ID, t.Retries, t.MaxRetries)
		os.Exit(exitDispatchHardFail)
	}

	pd := a.buildPulseDeps(a.identity)
	running, err := a.store.ListTasks(ctx, store.TaskFilter{Status: types.StateRunning})
	if err != nil {
		return err
	}
	loadRef := pd.ConcurrencyHardCap
	if loadRef <= 0 {
		loadRef = pd.ConcurrencyBase
	}
	loadFactor := dispatch.LoadFactor(len(running), loadRef)
	concurrencyCap := dispatch.EffectiveConcurrency(pd.ConcurrencyBase, loadFactor, pd.ConcurrencyHardCap)

	result, err := dispatch.Evaluate(ctx, pd.DispatchDeps, t, t.Repo, a.identity, concurrencyCap, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "evaluating %s: %v\n", t.ID, err)
		os.Exit(exitDispatchHardFail)
	}

	switch {
	case result.Cancel:
		if err := a.store.Transition(ctx, t.ID, types.StateCancelled, result.CancelReason, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled: %s\n", t.ID, result.CancelReason)
		os.Exit(exitDispatchOK)

	case result.BlockReason != "":
		if err := a.store.Transition(ctx, t.ID, types.StateBlocked, result.BlockReason, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s blocked: %s\n", t.ID, result.BlockReason)
		os.Exit(exitDispatchHardFail)

	case result.Defer == types.DeferAtCapacity:
		fmt.Fprintf(cmd.OutOrStdout(), "%s deferred: at concurrency cap\n", t.ID)
		os.Exit(exitDispatchAtCap)

	case result.Defer != types.DeferNone:
		fmt.Fprintf(cmd.OutOrStdout(), "%s deferred: %s\n", t.ID, result.Defer)
		os.Exit(exitDispatchDeferred)

	case result.Proceed:
		if err := a.store.Transition(ctx, t.ID, types.StateDispatched, "dispatched via cli", nil); err != nil {
			return err
		}
		t.ResolvedModel = string(dispatch.Resolve(dispatch.ResolveInput{Task: t}))
		pid, pair, err := dispatch.Spawn(pd.Spawn, t, time.Now().UTC())
		if err != nil {
			if transErr := a.store.Transition(ctx, t.ID, types.StateFailed, "spawn failed: "+err.Error(), nil); transErr != nil {
				return transErr
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s failed to spawn: %v\n", t.ID, err)
			os.Exit(exitDispatchHardFail)
		}
		t.PID = pid
		t.LogPath = pair.LogPath
		if err := a.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		if err := a.store.Transition(ctx, t.ID, types.StateRunning, "worker spawned via cli", nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s dispatched, running as pid %d\n", t.ID, pid)
		os.Exit(exitDispatchOK)
	}

	return nil
}
