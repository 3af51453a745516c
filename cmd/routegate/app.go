package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/dispatch"
	"github.com/routegate/routegate/internal/forward"
	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/registry"
	"github.com/routegate/routegate/internal/rules"
	"github.com/routegate/routegate/internal/server"
)

// metricsNamespace prefixes all exported metrics.
const metricsNamespace = "routegate"

// application owns the wired components and their lifecycle.
type application struct {
	cfg        *config.Config
	configPath string
	logger     observability.Logger
	metrics    *observability.Metrics
	registry   *registry.Registry
	ruleSet    *rules.Set
	dispatcher *dispatch.Dispatcher
	dataServer *server.Server
	admin      *server.Admin
}

// newApplication loads configuration and wires the dispatch pipeline.
func newApplication(configPath string, logger observability.Logger) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		observability.String("path", configPath),
		observability.Int("rules", len(cfg.Proxy.Rules)),
		observability.Bool("proxy_enabled", cfg.Proxy.Enabled),
	)

	metrics := observability.NewMetrics(metricsNamespace)

	reg := registry.New()
	if err := reg.Load(routeModules()); err != nil {
		return nil, err
	}

	ruleSet, err := rules.FromConfig(cfg.Proxy.Rules, interceptionHooks())
	if err != nil {
		return nil, err
	}

	forwarder := forward.New(
		forward.WithLogger(logger),
		forward.WithMetrics(metrics),
	)

	dispatcher := dispatch.New(reg, ruleSet, forwarder,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithProxyEnabled(cfg.Proxy.Enabled),
	)

	app := &application{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		metrics:    metrics,
		registry:   reg,
		ruleSet:    ruleSet,
		dispatcher: dispatcher,
		dataServer: server.New(cfg.Server, dispatcher, server.WithLogger(logger)),
		admin:      server.NewAdmin(cfg, reg, metrics, server.WithAdminLogger(logger)),
	}

	return app, nil
}

// Run starts both listeners and the config watcher, then blocks until
// a termination signal arrives.
func (a *application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.dataServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := a.admin.Start(); err != nil {
			errCh <- err
		}
	}()

	watcher, err := a.startConfigWatcher(ctx)
	if err != nil {
		// Hot reload is convenience; the loaded config still serves.
		a.logger.Warn("config watcher unavailable", observability.Error(err))
	}

	a.admin.SetReady(true)
	a.logger.Info("routegate started",
		observability.String("listen", a.cfg.Server.Listen),
		observability.String("admin", a.cfg.Server.AdminListen),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("received signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		a.logger.Error("listener failed", observability.Error(err))
	}

	a.admin.SetReady(false)
	if watcher != nil {
		_ = watcher.Stop()
	}

	return a.shutdown()
}

// startConfigWatcher begins watching the config file and applies rule
// set changes atomically. A reload failure keeps the previous rules.
func (a *application) startConfigWatcher(ctx context.Context) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(a.configPath, func(cfg *config.Config) {
		newSet, err := rules.FromConfig(cfg.Proxy.Rules, interceptionHooks())
		if err != nil {
			a.logger.Error("reload rejected: invalid rules", observability.Error(err))
			return
		}

		a.ruleSet.Replace(newSet.Rules())
		a.dispatcher.SetProxyEnabled(cfg.Proxy.Enabled)

		a.logger.Info("configuration reloaded",
			observability.Int("rules", len(cfg.Proxy.Rules)),
			observability.Bool("proxy_enabled", cfg.Proxy.Enabled),
		)
	},
		config.WithWatcherLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Error("config reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher, nil
}

// shutdown drains both listeners within the configured timeout.
func (a *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(),
		a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var firstErr error
	if err := a.dataServer.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := a.admin.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	a.logger.Info("shutdown complete")
	return firstErr
}
