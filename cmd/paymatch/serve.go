package main

import (
	"github.com/smallbiznis/paymatch/internal/bootstrap"
	"github.com/smallbiznis/paymatch/internal/migration"
	"github.com/smallbiznis/paymatch/internal/scheduler"
	"github.com/smallbiznis/paymatch/internal/server"
	"github.com/smallbiznis/paymatch/internal/webhook"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var withoutScanner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the scheduled scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				bootstrap.Infrastructure,
				migration.Module,
				bootstrap.Reconciliation,
				webhook.Module,
				server.Module,
			}
			if !withoutScanner {
				opts = append(opts, scheduler.Module)
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withoutScanner, "no-scanner", false, "serve HTTP only, without the background scanner")
	return cmd
}
