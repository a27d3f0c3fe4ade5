package main

import (
	"context"
	"strconv"

	"github.com/TilepMony-Project/engine/pkg/actions"
	"github.com/TilepMony-Project/engine/pkg/bridge"
	"github.com/TilepMony-Project/engine/pkg/cmd"
	"github.com/TilepMony-Project/engine/pkg/config"
	"github.com/TilepMony-Project/engine/pkg/log"
	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/otelhelper"
	"github.com/TilepMony-Project/engine/pkg/runner"
	"github.com/TilepMony-Project/engine/pkg/settlement"
	"github.com/TilepMony-Project/engine/pkg/web"
	"github.com/go-playground/validator/v10"
)

const serviceName = "tilepmony-engine"

type options struct {
	Port        int
	DatabaseURL string
	ChainsFile  string
	EventBus    string
	Brokers     string
	Tracing     bool
	Settings    config.Settings
}

func run(ctx context.Context, opts options) error {
	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing TilepMony engine")

	chains, err := config.LoadChains(opts.ChainsFile)
	if err != nil {
		return err
	}

	tracer := otelhelper.Tracer(serviceName)
	if opts.Tracing {
		tracer, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return err
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(opts.EventBus, opts.Brokers, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	conns, err := cmd.DialChains(ctx, logger, chains, opts.Settings)
	if err != nil {
		return err
	}
	defer conns.Close()

	m := metrics.New()

	watcher := bridge.NewWatcher(conns.Targets, store, log.WithModule("bridge"),
		bridge.WithEventBus(eventBus),
		bridge.WithMetrics(m),
		bridge.WithInitialLookback(opts.Settings.InitialLookback),
		bridge.WithInterval(opts.Settings.PollInterval),
	)

	executor := settlement.NewExecutor(store, chains, conns.Clients, log.WithModule("settlement"),
		settlement.WithEventBus(eventBus),
		settlement.WithMetrics(m),
		settlement.WithTracer(tracer),
		settlement.WithMaxGas(opts.Settings.MaxGas),
	)

	reconciler := settlement.NewReconciler(store, log.WithModule("reconciler"),
		settlement.WithReconcilerEventBus(eventBus),
		settlement.WithReconcilerMetrics(m),
		settlement.WithStuckAfter(opts.Settings.StuckAfter),
		settlement.WithReconcileInterval(opts.Settings.ReconcileInterval),
	)

	workflowRunner := runner.New(store, log.WithModule("runner"),
		runner.WithWaitCap(opts.Settings.WaitCap),
		runner.WithEventBus(eventBus),
		runner.WithMetrics(m),
		runner.WithTracer(tracer),
	)
	defer workflowRunner.Wait()

	if opts.Settings.AutoExecute {
		if err := settlement.AutoExecute(eventBus, executor, logger); err != nil {
			return err
		}
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return err
	}

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if err := reconciler.Start(ctx); err != nil {
		return err
	}
	defer reconciler.Stop()

	handlers := web.NewAPIHandlers(ctx, store, watcher, executor, workflowRunner,
		actions.NewCompiler(chains),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := NewAPI(logger, handlers, m).App()

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(":" + strconv.Itoa(opts.Port))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")

		if err := app.Shutdown(); err != nil {
			return err
		}

		return <-errs
	}
}
