package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/backlog"
	"github.com/pulseforge/supervisor/internal/config"
	"github.com/pulseforge/supervisor/internal/pulse"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "lifecycle",
	Short:   "Run the pulse loop continuously, triggered by an interval and backlog edits",
	Args:    cobra.NoArgs,
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().String("repo", "", "repo whose backlog file triggers an immediate pulse on edit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	lockCtx, cancelLock := context.WithTimeout(cmd.Context(), a.lockTimeout)
	defer cancelLock()
	if err := a.lock.Lock(lockCtx); err != nil {
		return fmt.Errorf("acquiring pulse lock (is another watch already running?): %w", err)
	}
	defer a.lock.Unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := config.GetDuration("watch.interval")
	if interval <= 0 {
		interval = 15 * time.Second
	}

	pulses := make(chan struct{}, 1)
	trigger := func() {
		select {
		case pulses <- struct{}{}:
		default:
		}
	}
	trigger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if repo, _ := cmd.Flags().GetString("repo"); repo != "" {
		backlogPath := config.GetString("backlog-path")
		if backlogPath == "" {
			backlogPath = ".pulse/backlog.md"
		}
		go func() {
			if err := backlog.Watch(ctx, backlogPath, 500*time.Millisecond, trigger); err != nil && ctx.Err() == nil {
				a.logger.Printf("backlog watch for %s stopped: %v", repo, err)
			}
		}()
	}

	a.logger.Printf("watch started, pulse interval %s", interval)

	for {
		select {
		case <-ctx.Done():
			a.logger.Printf("watch stopping: %v", ctx.Err())
			return nil

		case <-ticker.C:
			trigger()

		case <-pulses:
			if err := runOnePulse(ctx, a); err != nil {
				a.logger.Printf("pulse failed: %v", err)
				fmt.Fprintf(cmd.ErrOrStderr(), "pulse error: %v\n", err)
			}
		}
	}
}

func runOnePulse(ctx context.Context, a *app) error {
	deps := a.buildPulseDeps(a.identity)
	result, err := pulse.Run(ctx, deps, time.Now().UTC())
	if err != nil {
		return err
	}
	a.logger.Printf("pulse complete: dispatched=%d evaluated=%d self-healed=%d post-pipeline=%d breaker-tripped=%v",
		result.Dispatched, result.Evaluated, result.SelfHealed, result.PostPipelineMoved, result.BreakerTripped)
	return nil
}
