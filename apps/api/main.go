package main

import (
	"github.com/smallbiznis/paymatch/internal/bootstrap"
	"github.com/smallbiznis/paymatch/internal/migration"
	"github.com/smallbiznis/paymatch/internal/server"
	"github.com/smallbiznis/paymatch/internal/webhook"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Infrastructure,
		migration.Module,
		bootstrap.Reconciliation,
		webhook.Module,
		server.Module,
	)
	app.Run()
}
