package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/config"
	"github.com/pulseforge/supervisor/internal/scheduler"
)

var cronCmd = &cobra.Command{
	Use:     "cron {install|uninstall|status}",
	GroupID: "ops",
	Short:   "Manage the periodic pulse trigger (crontab on Linux, launchd on macOS)",
	Args:    cobra.ExactArgs(1),
	RunE:    runCron,
}

func init() {
	rootCmd.AddCommand(cronCmd)
}

func runCron(cmd *cobra.Command, args []string) error {
	installer := scheduler.ForHost()
	interval := config.GetInt("scheduler.interval-minutes")
	if interval <= 0 {
		interval = 5
	}

	switch args[0] {
	case "install":
		binPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving supervisor binary path: %w", err)
		}
		if err := installer.Install(binPath, dbPath(), interval); err != nil {
			return fmt.Errorf("installing periodic trigger: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed, running every %d minute(s)\n", interval)
		return nil

	case "uninstall":
		if err := installer.Uninstall(); err != nil {
			return fmt.Errorf("uninstalling periodic trigger: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "uninstalled")
		return nil

	case "status":
		st, err := installer.Status()
		if err != nil {
			return fmt.Errorf("reading trigger status: %w", err)
		}
		if st.Installed {
			fmt.Fprintf(cmd.OutOrStdout(), "installed via %s: %s\n", st.Mechanism, st.Detail)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "not installed (mechanism: %s)\n", st.Mechanism)
		}
		return nil

	default:
		return fmt.Errorf("unknown cron subcommand %q (want install|uninstall|status)", args[0])
	}
}
