package main

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/config"
	"github.com/vyrodovalexey/avalb/internal/health"
	"github.com/vyrodovalexey/avalb/internal/middleware"
	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/proxy"
	"github.com/vyrodovalexey/avalb/internal/ratelimit"
	"github.com/vyrodovalexey/avalb/internal/server"
)

// application holds all application components.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	metrics       *observability.Metrics
	registry      *backend.Registry
	pool          *backend.ConnectionPool
	healthChecker *backend.HealthChecker
	limiter       ratelimit.Limiter
	suspects      *proxy.SuspectTracker
	dispatcher    *proxy.Dispatcher

	trafficServer *server.Server
	adminServer   *server.Server
	watcher       *config.Watcher
}

// newApplication wires all components together.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics("avalb")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	registry, err := backend.NewRegistry(cfg.Backends)
	if err != nil {
		return nil, err
	}

	pool := backend.NewConnectionPool(backend.PoolConfigFromUpstream(cfg.Upstream))

	healthChecker := backend.NewHealthChecker(registry, cfg.HealthCheck,
		backend.WithHealthCheckLogger(logger),
		backend.WithHealthCheckMetrics(metrics),
	)

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		registry:      registry,
		pool:          pool,
		healthChecker: healthChecker,
		limiter:       limiter,
	}

	if cfg.Upstream.SuspectFailedHosts {
		app.suspects = proxy.NewSuspectTracker(proxy.WithSuspectLogger(logger))
	}

	app.dispatcher = newDispatcher(app)

	app.trafficServer = server.New("traffic", cfg.ListenAddr(), app.buildHandler(),
		server.WithServerLogger(logger),
		server.WithReadTimeout(cfg.Listen.ReadTimeout.Duration()),
		server.WithWriteTimeout(cfg.Listen.WriteTimeout.Duration()),
		server.WithIdleTimeout(cfg.Listen.IdleTimeout.Duration()),
	)

	if cfg.Admin.Enabled {
		app.adminServer = server.New("admin", cfg.AdminAddr(), app.buildAdminHandler(),
			server.WithServerLogger(logger),
		)
	}

	return app, nil
}

// newDispatcher builds the dispatcher with its options.
func newDispatcher(app *application) *proxy.Dispatcher {
	opts := []proxy.DispatcherOption{
		proxy.WithDispatcherLogger(app.logger),
		proxy.WithDispatcherMetrics(app.metrics),
		proxy.WithDispatcherTransport(app.pool.Transport()),
		proxy.WithUpstreamTimeout(app.cfg.Upstream.Timeout.Duration()),
	}
	if app.suspects != nil {
		opts = append(opts, proxy.WithSuspectTracker(app.suspects))
	}
	return proxy.NewDispatcher(app.registry, opts...)
}

// buildHandler builds the traffic middleware chain.
func (app *application) buildHandler() http.Handler {
	return middleware.Chain(app.dispatcher,
		middleware.Recovery(app.logger),
		middleware.RequestID(),
		middleware.Logging(app.logger),
		middleware.Metrics(app.metrics),
		middleware.RateLimit(app.limiter, app.cfg.RateLimit.PerClient,
			middleware.WithRateLimitLogger(app.logger),
			middleware.WithRateLimitMetrics(app.metrics),
		),
	)
}

// buildAdminHandler builds the admin mux.
func (app *application) buildAdminHandler() http.Handler {
	mux := http.NewServeMux()

	metricsPath := app.cfg.Admin.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, app.metrics.Handler())

	healthOpts := []health.HandlerOption{
		health.WithHandlerLogger(app.logger),
		health.WithVersion(version),
	}
	if app.suspects != nil {
		healthOpts = append(healthOpts, health.WithSuspectTracker(app.suspects))
	}
	health.NewHandler(app.registry, healthOpts...).Register(mux)

	return middleware.Chain(mux, middleware.Recovery(app.logger))
}

// Start starts the health checker and the listeners.
func (app *application) Start(ctx context.Context) error {
	app.healthChecker.Start(ctx)

	if err := app.trafficServer.Start(ctx); err != nil {
		return err
	}

	if app.adminServer != nil {
		if err := app.adminServer.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// StartConfigWatcher watches the configuration file and applies rate
// limit quota changes without restart.
func (app *application) StartConfigWatcher(configPath string) {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		// A disabled rate limit section skips validation on reload,
		// so its quota and window cannot be trusted. Switching the
		// limiter on or off requires a restart anyway.
		if !newCfg.RateLimit.Enabled {
			app.logger.Info("configuration changed, rate limiting disabled in new config, keeping current limiter settings")
			return
		}

		app.logger.Info("configuration changed, applying rate limit settings",
			observability.Int("requests", newCfg.RateLimit.Requests),
			observability.Duration("window", newCfg.RateLimit.Window.Duration()),
		)
		app.limiter.UpdateLimit(newCfg.RateLimit.Requests, newCfg.RateLimit.Window.Duration())
	}, config.WithWatcherLogger(app.logger))

	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		return
	}

	if err := watcher.Start(context.Background()); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		return
	}

	app.watcher = watcher
}

// Stop shuts everything down in reverse start order.
func (app *application) Stop(ctx context.Context) error {
	var firstErr error

	if app.watcher != nil {
		if err := app.watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.adminServer != nil {
		if err := app.adminServer.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := app.trafficServer.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	app.healthChecker.Stop()

	if err := app.limiter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	app.pool.CloseIdleConnections()

	return firstErr
}
