package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/fx"
)

const oneShotTimeout = 2 * time.Minute

// runOneShot starts a short-lived fx app, runs fn against it and stops it.
// targets are pointers filled through fx.Populate before fn is called.
func runOneShot(ctx context.Context, opts fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		opts,
		fx.NopLogger,
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	runCtx, cancelRun := context.WithTimeout(ctx, oneShotTimeout)
	runErr := fn(runCtx)
	cancelRun()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop: %w", err)
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
