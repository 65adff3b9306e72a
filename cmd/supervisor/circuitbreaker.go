package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var circuitBreakerCmd = &cobra.Command{
	Use:     "circuit-breaker {status|reset|check|trip}",
	GroupID: "ops",
	Short:   "Inspect or manipulate the provider circuit breaker",
	Args:    cobra.ExactArgs(1),
	RunE:    runCircuitBreaker,
}

func init() {
	rootCmd.AddCommand(circuitBreakerCmd)
}

func runCircuitBreaker(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()

	switch args[0] {
	case "status":
		s, err := a.breaker.Status()
		if err != nil {
			return fmt.Errorf("reading breaker state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (consecutive failures: %d)\n", breakerSummary(s), s.ConsecutiveFailures)
		if s.Tripped {
			fmt.Fprintf(cmd.OutOrStdout(), "tripped at %s\n", s.TrippedAt.Format(time.RFC3339))
		}
		return nil

	case "reset":
		if err := a.breaker.Reset(); err != nil {
			return fmt.Errorf("resetting breaker: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "breaker reset")
		return nil

	case "check":
		tripped, err := a.breaker.Check(now)
		if err != nil {
			return fmt.Errorf("checking breaker: %w", err)
		}
		if tripped {
			fmt.Fprintln(cmd.OutOrStdout(), "tripped")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "closed")
		}
		return nil

	case "trip":
		if err := a.breaker.Trip(now); err != nil {
			return fmt.Errorf("tripping breaker: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "breaker tripped")
		return nil

	default:
		return fmt.Errorf("unknown circuit-breaker subcommand %q (want status|reset|check|trip)", args[0])
	}
}
