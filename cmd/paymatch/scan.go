package main

import (
	"context"
	"time"

	"github.com/smallbiznis/paymatch/internal/bootstrap"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func scanCmd() *cobra.Command {
	var (
		lookback time.Duration
		limit    int
		source   string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one reconciliation pass and print the summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg        config.Config
				clk        clock.Clock
				reconciler domain.Service
			)
			return runOneShot(cmd.Context(), fx.Options(bootstrap.Infrastructure, bootstrap.Reconciliation),
				func(ctx context.Context) error {
					window := lookback
					if window <= 0 {
						window = cfg.Scan.Lookback
					}
					summary, err := reconciler.RunPass(ctx, domain.PassRequest{
						Source: domain.Source(source),
						Since:  clk.Now().Add(-window),
						Limit:  limit,
					})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), summary)
				},
				&cfg, &clk, &reconciler,
			)
		},
	}

	cmd.Flags().DurationVar(&lookback, "lookback", 0, "only consider transactions newer than this (default SCAN_LOOKBACK)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum transactions to fetch (default SEPAY_LIMIT)")
	cmd.Flags().StringVar(&source, "source", string(domain.SourceManual), "source recorded on ledger rows")
	return cmd
}
