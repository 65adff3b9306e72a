package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/breaker"
	"github.com/pulseforge/supervisor/internal/config"
	"github.com/pulseforge/supervisor/internal/scheduler"
	"github.com/pulseforge/supervisor/internal/statusui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "lifecycle",
	Short:   "Initialize a .pulse/ directory and configure dispatch policy",
	RunE:    runInit,
}

func init() {
	initCmd.Flags().Bool("quiet", false, "skip the interactive wizard and accept defaults")
	initCmd.Flags().Bool("install-cron", false, "install the periodic pulse trigger after setup")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to initialize config: %v\n", err)
	}

	pd := pulseDir()
	if err := os.MkdirAll(pd, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", pd, err)
	}
	if err := os.MkdirAll(filepath.Join(pd, "logs"), 0o755); err != nil {
		return fmt.Errorf("creating %s/logs: %w", pd, err)
	}

	concurrencyBase := config.GetInt("dispatch.concurrency-base")
	if concurrencyBase <= 0 {
		concurrencyBase = 3
	}
	concurrencyHard := config.GetInt("dispatch.concurrency-hard-cap")
	defaultTier := config.GetString("dispatch.default-tier")
	if defaultTier == "" {
		defaultTier = "sonnet"
	}
	breakerThreshold := config.GetInt("breaker.threshold")
	if breakerThreshold <= 0 {
		breakerThreshold = 3
	}
	installCron, _ := cmd.Flags().GetBool("install-cron")

	quiet, _ := cmd.Flags().GetBool("quiet")
	concurrencyInput := fmt.Sprintf("%d", concurrencyBase)
	if !quiet {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Base dispatch concurrency").
					Description("Tasks allowed to run at once under normal load").
					Value(&concurrencyInput),
				huh.NewSelect[string]().
					Title("Default model tier").
					Options(
						huh.NewOption("Haiku", "haiku"),
						huh.NewOption("Sonnet", "sonnet"),
						huh.NewOption("Opus", "opus"),
					).
					Value(&defaultTier),
				huh.NewConfirm().
					Title("Install periodic pulse trigger now?").
					Value(&installCron),
			),
		)
		if err := form.Run(); err != nil && err != huh.ErrUserAborted {
			return fmt.Errorf("running setup wizard: %w", err)
		}
		if n, err := strconv.Atoi(concurrencyInput); err == nil && n > 0 {
			concurrencyBase = n
		}
	}

	config.Set("dispatch.concurrency-base", concurrencyBase)
	config.Set("dispatch.default-tier", defaultTier)
	config.Set("breaker.threshold", breakerThreshold)

	b := breaker.New(filepath.Join(pd, "breaker.toml"))
	if _, err := b.Status(); err != nil {
		return fmt.Errorf("initializing breaker state: %w", err)
	}

	res := statusui.InitResult{
		PulseDir:           pd,
		BacklogPath:        config.GetString("backlog-path"),
		BreakerPath:        filepath.Join(pd, "breaker.toml"),
		ConcurrencyBase:    concurrencyBase,
		ConcurrencyHard:    concurrencyHard,
		DefaultTier:        defaultTier,
		BreakerThreshold:   breakerThreshold,
		BreakerCooldown:    config.GetDuration("breaker.cooldown").String(),
		TemplatesInstalled: []string{"diagnostic"},
		QuickstartCommands: []string{"supervisor status", "supervisor list", "supervisor watch"},
	}

	if installCron {
		binPath, err := os.Executable()
		if err == nil {
			if err := scheduler.ForHost().Install(binPath, dbPath(), 5); err == nil {
				res.CronInstalled = true
				res.CronSchedule = "every 5 minutes"
			} else {
				res.DoctorIssues = append(res.DoctorIssues, fmt.Sprintf("cron install failed: %v", err))
			}
		}
	}
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		res.DoctorIssues = append(res.DoctorIssues, "periodic trigger install is untested on this OS; prefer `supervisor watch`")
	}

	fmt.Fprintln(cmd.OutOrStdout(), statusui.RenderInitReport(res, 80))
	return nil
}
