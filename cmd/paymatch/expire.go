package main

import (
	"context"

	"github.com/smallbiznis/paymatch/internal/bootstrap"
	"github.com/smallbiznis/paymatch/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func expireAddonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-addons",
		Short: "Expire add-on purchases whose validity has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s *scheduler.Scheduler
			return runOneShot(cmd.Context(), fx.Options(bootstrap.Infrastructure, bootstrap.Reconciliation, scheduler.CoreModule),
				func(ctx context.Context) error {
					if err := s.RunJob(ctx, scheduler.JobExpireAddons); err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]string{
						"job":    scheduler.JobExpireAddons,
						"status": "ok",
					})
				},
				&s,
			)
		},
	}
}
