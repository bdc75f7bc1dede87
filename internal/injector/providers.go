// Package injector assembles the daemon with google/wire.
package injector

import (
	"context"
	"fmt"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/eqs/internal/config"
	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/observability/metrics"
	"github.com/zeusync/eqs/internal/server"
)

// ProviderSet is everything InitializeApp needs besides the config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideRegistry,
	ProvideMetrics,
	ProvideSceneSource,
	ProvideCoordinator,
	ProvideService,
	ProvideServer,
	NewApp,
)

// App is the wired daemon.
type App struct {
	Config  config.Config
	Log     *log.Logger
	Service *eqs.Service
	Server  *server.Server
	Metrics *metrics.Metrics
}

func NewApp(cfg config.Config, logger *log.Logger, svc *eqs.Service, srv *server.Server, m *metrics.Metrics) *App {
	return &App{Config: cfg, Log: logger, Service: svc, Server: srv, Metrics: m}
}

// Run serves until ctx is done, then stops the server.
func (a *App) Run(ctx context.Context) error {
	if a.Config.Engine.InitOnStart {
		sum, err := a.Service.InitializeEnvironment(ctx, eqs.DefaultInitRequest())
		if err != nil {
			return fmt.Errorf("initial environment: %w", err)
		}
		a.Log.Info("environment ready", log.String("hash", sum.Hash), log.Int("cells", sum.TotalCells))
	}
	if err := a.Server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Server.Stop(context.WithoutCancel(ctx))
}

func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, err := log.NewWithOptions(log.Options{Level: level, Encoding: cfg.Log.Encoding})
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideBus() bus.EventBus { return bus.New() }

// ProvideRegistry includes the Go runtime and process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry, b bus.EventBus) (*metrics.Metrics, error) {
	m := metrics.New(reg)
	if err := m.Attach(b); err != nil {
		return nil, err
	}
	return m, nil
}

// ProvideSceneSource loads the configured scene file. Without one, a single
// empty scene named "default" is served.
func ProvideSceneSource(cfg config.Config) (world.SceneSource, error) {
	if cfg.Scenes == "" {
		return world.NewStaticSource(&world.Scene{ID: "default"}), nil
	}
	return world.LoadSceneFile(cfg.Scenes)
}

func ProvideCoordinator(cfg config.Config, logger *log.Logger) *coordinator.Coordinator {
	return coordinator.New(coordinator.Options{Workers: cfg.Engine.Workers}, logger)
}

func ProvideService(cfg config.Config, src world.SceneSource, co *coordinator.Coordinator, b bus.EventBus, logger *log.Logger) *eqs.Service {
	opts := eqs.Options{
		DefaultCellSize: cfg.Engine.DefaultCellSize,
		BoundsMargin:    cfg.Engine.BoundsMargin,
		MaxCells:        cfg.Engine.MaxCells,
		Workers:         cfg.Engine.Workers,
	}
	if cfg.Engine.DefaultBounds != nil {
		opts.DefaultBounds = cfg.Engine.DefaultBounds.Canon()
	}
	return eqs.NewService(src, co, b, opts, logger)
}

func ProvideServer(cfg config.Config, svc *eqs.Service, b bus.EventBus, reg *prometheus.Registry, logger *log.Logger) (*server.Server, func(), error) {
	srv, err := server.NewServer(cfg.Server, svc, b, reg, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, func() { _ = srv.Close() }, nil
}
