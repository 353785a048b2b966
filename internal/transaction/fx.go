package transaction

import (
	"github.com/smallbiznis/paymatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("transaction.source",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (Source, error) {
		return NewSePayClient(cfg.SePay, log)
	}),
)
