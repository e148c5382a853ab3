// Package commands implements CLI command handlers for stope.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/config"
	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/observability"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/watcher"
	"github.com/stopeworks/stope/pkg/version"
)

// dataDirPerm is the mode of a freshly created data root.
const dataDirPerm = 0o755

// App is the backend container: configuration, telemetry providers, and
// the shared managers every command works through.
type App struct {
	Config    *config.Config
	Providers observability.Providers
	Metrics   *observability.REDMetrics
	Locks     *locking.Manager
	Stores    *artifact.Manager
	Engine    *task.Engine

	// Watcher is nil when disabled by config.
	Watcher *watcher.Watcher
}

// NewApp loads configuration and wires the backend. The watcher is
// constructed but not started; serve starts it.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	providers, err := initObservability(cfg)
	if err != nil {
		return nil, err
	}

	// Commands and background jobs log through the shared handler.
	slog.SetDefault(providers.Logger)

	metrics, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}

	mkdirErr := os.MkdirAll(cfg.DataDir, dataDirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create data dir: %w", mkdirErr)
	}

	locks := locking.NewManager()
	stores := artifact.NewManager(cfg.DataDir, locks, providers.Logger, artifact.CacheOptions{
		TTL:              cfg.Cache.TTL,
		WorkspaceEntries: cfg.Cache.WorkspaceEntries,
		ModelEntries:     cfg.Cache.ModelEntries,
		VectorEntries:    cfg.Cache.VectorEntries,
	})

	logSizeMB, err := cfg.Engine.TaskLogSizeMB()
	if err != nil {
		return nil, err
	}

	engine := task.NewEngine(task.Options{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		Logger:         providers.Logger,
		Metrics:        metrics,
		TaskLogSizeMB:  logSizeMB,
		TaskLogBackups: cfg.Engine.TaskLogBackups,
	})

	app := &App{
		Config:    cfg,
		Providers: providers,
		Metrics:   metrics,
		Locks:     locks,
		Stores:    stores,
		Engine:    engine,
	}

	if cfg.Watcher.Enabled {
		w, watchErr := watcher.New(stores, locks, watcher.Options{
			Debounce: cfg.Watcher.Debounce,
			Logger:   providers.Logger,
		})
		if watchErr != nil {
			engine.Close()

			return nil, watchErr
		}

		app.Watcher = w
	}

	return app, nil
}

func initObservability(cfg *config.Config) (observability.Providers, error) {
	level, err := cfg.Observability.SlogLevel()
	if err != nil {
		return observability.Providers{}, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.PrometheusEnabled = cfg.Observability.PrometheusAddr != ""
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Observability.LogFormat == config.LogFormatJSON

	return observability.Init(obsCfg)
}

// StartWatcher subscribes the watcher to the data root. No-op when the
// watcher is disabled.
func (a *App) StartWatcher(ctx context.Context) error {
	if a.Watcher == nil {
		return nil
	}

	return a.Watcher.Start(ctx)
}

// Close stops the watcher and engine and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var watchErr error
	if a.Watcher != nil {
		watchErr = a.Watcher.Close()
	}

	a.Engine.Close()

	return errors.Join(watchErr, a.Providers.Shutdown(ctx))
}
