// Command supervisor drives the pulse-cycle task supervisor: dispatching AI
// worker subprocesses through a task lifecycle, enforcing concurrency and
// budget constraints, evaluating outcomes, and self-healing failures.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "supervisor",
	Short:         "Pulse-cycle supervisor for autonomous AI task dispatch",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "lifecycle", Title: "Task lifecycle:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	rootCmd.PersistentFlags().Bool("json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().String("db", "", "path to the supervisor's sqlite database")
	rootCmd.PersistentFlags().String("actor", "", "identity recorded in proof-log entries")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
