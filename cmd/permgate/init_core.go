package main

import (
	"context"
	"fmt"
	"log/slog"

	"permgate/internal/adapter/browser"
	"permgate/internal/adapter/cookie"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/adapter/provider"
	"permgate/internal/domain"
	"permgate/internal/infra/config"
	"permgate/internal/infra/logger"
	"permgate/internal/infra/tracer"
	"permgate/internal/usecase/permission"
)

// Runtime holds the ambient stack shared by every command.
type Runtime struct {
	Config *config.Config
	Log    *slog.Logger
	close  []func()
}

// Close runs registered cleanups in reverse order.
func (r *Runtime) Close() {
	for i := len(r.close) - 1; i >= 0; i-- {
		r.close[i]()
	}
}

// initRuntime loads config, then sets up logging and tracing.
func initRuntime(ctx context.Context, cfgPath string) (*Runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &Runtime{Config: cfg, Log: log}
	rt.close = append(rt.close, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, version)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.close = append(rt.close, func() { _ = tracerShutdown(context.Background()) })
	return rt, nil
}

// CoreComponents holds the permission layer and the stores behind it.
type CoreComponents struct {
	Coordinator *permission.Coordinator
	Cookies     *cookie.FileStore
	Grants      *grantstore.FileStore
	probe       *browser.ChromeProbe // nil unless the chromedp probe is selected
}

// Close releases the browser, if one was started.
func (c *CoreComponents) Close() {
	if c.probe != nil {
		c.probe.Close()
	}
}

// initCore builds the catalogue, one provider per entry and the coordinator.
func initCore(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*CoreComponents, error) {
	comp := &CoreComponents{
		Cookies: cookie.NewFileStore(cfg.Providers.Login.CookieFile),
		Grants:  grantstore.NewFileStore(grantstore.WithPath(cfg.Providers.Platform.GrantsFile)),
	}

	pip, chrome := initPIPProbe(cfg.Providers.PIP, log)
	comp.probe = chrome

	login := cfg.Providers.Login
	providers := map[domain.PermissionName]domain.Provider{
		domain.PermissionLogin: provider.NewLogin(comp.Cookies, login.URL, login.Cookie),
		domain.PermissionNotifications: permission.NewCallbackProvider(domain.PermissionNotifications,
			provider.PlatformQuery(comp.Grants, domain.PermissionNotifications), log),
		domain.PermissionPIP: provider.NewPIP(pip),
		domain.PermissionDownloads: permission.NewCallbackProvider(domain.PermissionDownloads,
			provider.PlatformQuery(comp.Grants, domain.PermissionDownloads), log),
	}

	coord, err := permission.NewCoordinator(permission.CoordinatorDeps{
		Catalogue: permission.DefaultCatalogue(),
		Providers: providers,
		Bus:       bus,
		Logger:    log,
	})
	if err != nil {
		comp.Close()
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	comp.Coordinator = coord
	return comp, nil
}

// initPIPProbe selects the picture-in-picture probe. The chromedp probe is
// wrapped in a circuit breaker and returned separately so it can be closed.
func initPIPProbe(cfg config.PIPProviderConfig, log *slog.Logger) (browser.PIPProbe, *browser.ChromeProbe) {
	if cfg.Probe != "chromedp" {
		return browser.StaticProbe(cfg.StaticResult), nil
	}
	chrome := browser.NewChromeProbe(browser.ChromeConfig{
		RemoteURL: cfg.RemoteURL,
		Headless:  cfg.Headless,
		Timeout:   cfg.Timeout,
	}, log)
	return browser.NewBreakerProbe(chrome, browser.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		Interval:    cfg.Breaker.Interval,
	}, log), chrome
}
