package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/simonhayes51/sbccrawler-sub000/internal/api"
	"github.com/simonhayes51/sbccrawler-sub000/internal/api/handlers"
	"github.com/simonhayes51/sbccrawler-sub000/internal/scheduler"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/shutdown"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog API and run the daily crawl",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), !noSchedule)
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Serve the API without scheduled crawls")
	return cmd
}

func runServe(ctx context.Context, schedule bool) error {
	a, err := newApp(os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info("starting catalog service",
		"version", Version,
		"environment", a.cfg.Server.Environment,
		"port", a.cfg.Server.Port,
	)

	shutdownHandler := shutdown.New(a.log.Logger, a.cfg.Server.ShutdownTimeout)

	// ============================
	// Collaborators
	// ============================
	components := map[string]handlers.HealthChecker{}

	var catalogReader handlers.CatalogReader
	if err := a.openStore(ctx); err != nil {
		a.log.WithError(err).Warn("catalog store unavailable, running in limited mode")
		components["database"] = nil
	} else {
		catalogReader = a.store
		components["database"] = a.store
	}

	a.connectOptional(ctx)
	if a.redis != nil {
		components["redis"] = a.redis
	}
	if a.snapshots != nil {
		components["snapshots"] = a.snapshots
	}

	// ============================
	// Crawl runner and scheduler
	// ============================
	orch := a.orchestrator(true, a.cfg.Crawler.UseBrowser, 0)
	cache := a.catalogCache(ctx)
	runner := scheduler.NewRunner(orch, a.statusStore(), cache, scheduler.RunnerConfig{LockTTL: a.cfg.Redis.LockTTL}, a.log)

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	runner.SetBaseContext(runCtx)

	shutdownHandler.RegisterNamed("crawl_runner", func(ctx context.Context) error {
		cancelRuns()
		done := make(chan struct{})
		go func() {
			runner.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("crawl pass did not stop: %w", ctx.Err())
		}
	})

	if schedule {
		hour, minute, err := a.cfg.Schedule.Clock()
		if err != nil {
			return err
		}
		loc, err := time.LoadLocation(a.cfg.Schedule.Timezone)
		if err != nil {
			return fmt.Errorf("failed to load timezone: %w", err)
		}

		sched, err := scheduler.New(scheduler.Config{
			Hour:       hour,
			Minute:     minute,
			Location:   loc,
			RunOnStart: a.cfg.Schedule.RunOnStart,
		}, runner, a.log)
		if err != nil {
			return err
		}
		sched.Start()
		shutdownHandler.RegisterNamed("scheduler", func(ctx context.Context) error {
			return sched.Shutdown()
		})
	}

	// ============================
	// HTTP server
	// ============================
	routerCfg := api.DefaultRouterConfig()
	routerCfg.RootPath = a.cfg.Crawler.RootPath

	router := api.NewRouter(api.Dependencies{
		Logger:     a.log,
		Catalog:    catalogReader,
		Cache:      cache,
		Runner:     runner,
		Components: components,
	}, routerCfg)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = a.cfg.Server.Port
	server := api.NewServer(router, serverCfg, a.log)

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			a.log.WithError(err).Error("HTTP server stopped")
			serverErr <- err
			cancelWait()
		}
	}()

	shutdownHandler.RegisterNamed("http_server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	a.log.Info("catalog service started", "addr", server.Addr(), "schedule", schedule)

	if err := shutdownHandler.Wait(waitCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	select {
	case err := <-serverErr:
		return err
	default:
	}

	a.log.Info("catalog service stopped")
	return nil
}
