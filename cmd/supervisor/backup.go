package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseforge/supervisor/internal/store/sqlite"
)

var backupCmd = &cobra.Command{
	Use:     "backup [reason]",
	GroupID: "ops",
	Short:   "Snapshot the supervisor database",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runBackup,
}

var restoreCmd = &cobra.Command{
	Use:     "restore [file]",
	GroupID: "ops",
	Short:   "Restore the supervisor database from a snapshot (latest, if none given)",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	reason := "manual"
	if len(args) == 1 {
		reason = args[0]
	}
	path, err := sqlite.Backup(dbPath(), reason)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", path)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := sqlite.Restore(dbPath(), args[0]); err != nil {
			return fmt.Errorf("restoring from %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database restored from %s\n", args[0])
		return nil
	}
	if err := sqlite.RestoreLatestBackup(dbPath()); err != nil {
		return fmt.Errorf("restoring latest backup: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "database restored from latest backup")
	return nil
}
