package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"permgate/internal/adapter/cookie"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/usecase/eventbus"
	"permgate/internal/usecase/permission"
)

func runServe(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := initRuntime(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.Config, rt.Log

	bus := eventbus.New(log)
	defer bus.Close()

	core, err := initCore(cfg, bus, log)
	if err != nil {
		return err
	}
	defer core.Close()

	// Gateway first so clients see the initial sweep broadcasts.
	srv := initGateway(ctx, cfg.Gateway, core.Coordinator, bus, log)
	gwErr := make(chan error, 1)
	if srv != nil {
		go func() { gwErr <- srv.Start(ctx) }()
	}

	if err := core.Coordinator.CheckAll(ctx); err != nil {
		return fmt.Errorf("initial sweep: %w", err)
	}

	features := buildFeatures(cfg.Features, log)
	if _, err := loadFeatures(ctx, core.Coordinator, features, log); err != nil {
		return fmt.Errorf("features: %w", err)
	}

	watcher := permission.NewFeedWatcher(core.Coordinator,
		permission.WithSessionCookie(cfg.Feeds.Cookies.Name, cfg.Feeds.Cookies.Domain),
		permission.WithMinInterval(cfg.Feeds.MinInterval),
		permission.WithWatcherLogger(log),
	)
	if cfg.Feeds.Cookies.Enabled {
		if err := watcher.WatchCookies(ctx, cookie.NewFeed(core.Cookies, cfg.Feeds.Debounce, log)); err != nil {
			log.Warn("cookie feed unavailable", "path", core.Cookies.Path(), "error", err)
		}
	}
	if cfg.Feeds.Grants.Enabled {
		if err := watcher.WatchGrants(ctx, grantstore.NewFeed(core.Grants, cfg.Feeds.Debounce, log)); err != nil {
			log.Warn("grant feed unavailable", "path", core.Grants.ConfigPath(), "error", err)
		}
	}

	sched, err := initScheduler(cfg.Schedules, core.Coordinator, log)
	if err != nil {
		cancel()
		watcher.Wait()
		return err
	}
	if err := sched.Start(ctx); err != nil {
		cancel()
		watcher.Wait()
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	log.Info("permgate started",
		"version", version,
		"permissions", core.Coordinator.Catalogue().Len(),
		"features", len(features),
		"gateway", srv != nil,
		"schedules", len(cfg.Schedules),
	)

	select {
	case <-ctx.Done():
	case err := <-gwErr:
		if err != nil {
			cancel()
			watcher.Wait()
			return fmt.Errorf("gateway: %w", err)
		}
	}

	log.Info("shutting down")
	if srv != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Stop(stopCtx); err != nil {
			log.Error("gateway shutdown error", "error", err)
		}
	}
	watcher.Wait()
	return nil
}
