package reconciliation

import (
	"github.com/smallbiznis/paymatch/internal/reconciliation/repository"
	"github.com/smallbiznis/paymatch/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
