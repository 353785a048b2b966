package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// CoreModule provides the scheduler without starting its loop.
var CoreModule = fx.Options(
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

var Module = fx.Module("scheduler",
	CoreModule,
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, sched *Scheduler) {
	var cancel context.CancelFunc
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
