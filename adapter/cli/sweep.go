package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/scholaris/pkg/config"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep and exit",
	Long: `Runs a single reconciliation pass: lapsed non-renewing subscriptions
and past-due subscriptions beyond the grace period are expired and their
owners downgraded. Safe to run at any time; every transition is conditional
on current state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := observability.LoggerFromEnv()
		SetLogger(log)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		app, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		result, err := app.reconciler.RunSweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("sweep completed: scanned=%d expired=%d errors=%d duration=%s\n",
			result.Scanned, result.Expired, result.Errors, result.Duration)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
