package notification

import (
	"context"

	"github.com/smallbiznis/paymatch/internal/config"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"github.com/smallbiznis/paymatch/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(newDispatcher),
	fx.Provide(func(d *Dispatcher) Sink { return d }),
)

type dispatcherParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Provider  email.Provider
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

func newDispatcher(p dispatcherParams) *Dispatcher {
	d := NewDispatcher(p.Config.Notify, p.Provider, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
	return d
}
