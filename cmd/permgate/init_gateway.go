package main

import (
	"context"
	"log/slog"

	"permgate/internal/adapter/gateway"
	"permgate/internal/domain"
	"permgate/internal/infra/config"
	"permgate/internal/infra/middleware"
	"permgate/internal/usecase/permission"
)

// initGateway builds the WebSocket gateway, or returns nil when disabled.
func initGateway(
	ctx context.Context,
	cfg config.GatewayConfig,
	coord *permission.Coordinator,
	bus domain.EventBus,
	log *slog.Logger,
) *gateway.Server {
	if !cfg.Enabled {
		return nil
	}

	var auth gateway.Authenticator = gateway.OpenAuth{}
	if cfg.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, len(cfg.Auth.Tokens))
		for i, t := range cfg.Auth.Tokens {
			entries[i] = gateway.TokenEntry{Token: t.Token, Name: t.Name, Roles: t.Roles}
		}
		auth = gateway.NewStaticTokenAuth(entries)
	} else {
		log.Warn("gateway auth disabled, accepting every client", "addr", cfg.Addr)
	}

	srv := gateway.NewServer(bus, auth, cfg.Addr, log)
	srv.Use(middleware.SecurityHeaders)
	srv.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}))

	deps := gateway.HandlerDeps{Coordinator: coord, Logger: log, Version: version}
	gateway.RegisterHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)
	return srv
}
