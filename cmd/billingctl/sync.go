package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksred/steam-billing-api/internal/app"
	"github.com/ksred/steam-billing-api/internal/config"
	"github.com/ksred/steam-billing-api/internal/reconcile"
)

func syncCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one report reconciliation against the configured store",
		Long: `Fetch the platform's billing report and upsert every order into the
transaction store, exactly like one tick of the server's reconciler.

Without --since the window starts one report interval plus the safety
margin ago. Pass --since (RFC3339) to back-fill from an earlier point.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			billing, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer billing.Close()

			var result reconcile.TickResult
			if since != "" {
				from, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				result, err = billing.Processor.RunSince(cmd.Context(), from)
				if err != nil {
					return err
				}
			} else {
				result, err = billing.Processor.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
			}

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d orders failed to reconcile", result.Failed, result.Reported)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Report window start (RFC3339)")
	return cmd
}
