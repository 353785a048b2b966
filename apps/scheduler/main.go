package main

import (
	"github.com/smallbiznis/paymatch/internal/bootstrap"
	"github.com/smallbiznis/paymatch/internal/scheduler"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Infrastructure,
		bootstrap.Reconciliation,

		// Background jobs only, no HTTP surface.
		scheduler.Module,
	)
	app.Run()
}
