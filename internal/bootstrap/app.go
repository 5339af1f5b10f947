package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apphttp "gitlab.com/timkado/api/travel-session-client/internal/adapters/http"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/middleware"
	appredis "gitlab.com/timkado/api/travel-session-client/internal/adapters/redis"
	"gitlab.com/timkado/api/travel-session-client/internal/application"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/safego"
	"gitlab.com/timkado/api/travel-session-client/pkg/storagekeys"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.
// This file should only contain methods for the App struct, like Run().

// ErrNoEventBus is returned by WatchAuthEvents when Redis is not configured.
var ErrNoEventBus = errors.New("auth events require storage.backend=redis")

func (a *App) serviceInfo() (serviceName, version string) {
	serviceName, version = "travel-session-client", "unknown"
	if a.configProvider != nil && a.configProvider.Get() != nil {
		configApp := a.configProvider.Get().App
		if configApp.Version != "" {
			version = configApp.Version
		}
		if configApp.ServiceName != "" {
			serviceName = configApp.ServiceName
		}
	}
	return serviceName, version
}

// registerRoutes wires the local HTTP surface. Probes and metrics stay open; everything
// else carries the session ID and is behind the optional API key.
func (a *App) registerRoutes(ctx context.Context) {
	withSession := middleware.SessionIDMiddleware(string(a.sessionID))
	apiKeyAuth := middleware.APIKeyAuthMiddleware(a.configProvider, a.logger)
	protected := func(h http.Handler) http.Handler {
		return middleware.RequestIDMiddleware(withSession(apiKeyAuth(h)))
	}

	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(apphttp.HealthHandler()))
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(withSession(apphttp.ReadyHandler(a.gate, a.storage, a.logger))))
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))
	a.logger.Info(ctx, "Prometheus metrics endpoint registered at /metrics")

	a.httpServeMux.Handle("GET /page-context", protected(apphttp.PageContextHandler(a.gate, a.logger)))
	a.httpServeMux.Handle("POST /page-context/visibility", protected(apphttp.VisibilityHandler(a.gate, a.logger)))
	a.httpServeMux.Handle("GET /page-info/{type}", protected(apphttp.PageInfoHandler(a.gate, a.logger)))
	a.httpServeMux.Handle("GET /visa-search", protected(apphttp.VisaSearchHandler(a.content, a.logger)))
	a.httpServeMux.Handle("GET /autocomplete", protected(apphttp.AutocompleteHandler(a.content, a.logger)))
	a.httpServeMux.Handle("GET /sections/{slug}", protected(apphttp.SectionHandler(a.content, a.logger)))
	a.logger.Info(ctx, "Page context and content endpoints registered")
}

// Run starts the application, listens for HTTP requests, and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	serviceName, version := a.serviceInfo()
	a.logger.Info(ctx, "Starting application", "service_name", serviceName, "version", version, "session_id", string(a.sessionID))

	a.registerRoutes(ctx)

	authChecks := a.startAuthChecks(ctx)

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownTimeout := 30 * time.Second
		if a.configProvider != nil && a.configProvider.Get() != nil {
			if s := a.configProvider.Get().App.ShutdownTimeoutSeconds; s > 0 {
				shutdownTimeout = time.Duration(s) * time.Second
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		<-authChecks
		a.gate.StopSessionMonitor()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", a.configProvider.Get().Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

// startAuthChecks runs the initial auth check and then starts the session monitor, both in
// the background so the server starts listening right away.
func (a *App) startAuthChecks(ctx context.Context) <-chan struct{} {
	return safego.Execute(ctx, a.logger, "InitialAuthCheck", func() {
		state := a.gate.Check(ctx)
		a.logger.Info(ctx, "Initial auth check finished", "state", state.String())
		if ctx.Err() != nil {
			return
		}
		a.gate.StartSessionMonitor(ctx)
	})
}

// CheckOnce runs a single auth check, refreshing the session first when it is close to expiry.
func (a *App) CheckOnce(ctx context.Context) (application.PageContext, error) {
	if err := a.refresher.EnsureFreshToken(ctx); err != nil {
		return application.PageContext{}, err
	}
	a.gate.Check(ctx)
	snapshot := a.gate.Snapshot()
	if snapshot.State == domain.AuthStateError {
		return snapshot, fmt.Errorf("%w: %s", domain.ErrUpstream, snapshot.LastError)
	}
	return snapshot, nil
}

// WatchAuthEvents streams auth state changes published by every process of this service
// until ctx is done.
func (a *App) WatchAuthEvents(ctx context.Context, handler domain.AuthEventHandler) error {
	if a.redisClient == nil {
		return ErrNoEventBus
	}
	serviceName, _ := a.serviceInfo()
	var subscriber domain.AuthEventSubscriber = appredis.NewAuthEventsPubSubAdapter(
		a.redisClient, a.logger, storagekeys.AuthEventsChannel(serviceName))
	if err := subscriber.SubscribeAuthStateChanges(ctx, handler); err != nil {
		return err
	}
	defer subscriber.Close()

	<-ctx.Done()
	return nil
}
