package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Serve HTTP hardening limits.
const (
	serveReadHeaderTimeout = 5 * time.Second
	serveShutdownTimeout   = 10 * time.Second
)

// NewServeCommand creates the backend daemon command: task engine, cache
// watcher, and the Prometheus scrape listener when configured.
func NewServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	app, err := NewApp(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = app.StartWatcher(ctx)
	if err != nil {
		closeErr := app.Close(context.Background())

		return errors.Join(err, closeErr)
	}

	var metricsSrv *http.Server

	if app.Providers.PromHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.Providers.PromHandler)

		metricsSrv = &http.Server{
			Addr:              app.Config.Observability.PrometheusAddr,
			Handler:           mux,
			ReadHeaderTimeout: serveReadHeaderTimeout,
		}

		go func() {
			serveErr := metricsSrv.ListenAndServe()
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				app.Providers.Logger.Error("metrics listener failed", "error", serveErr)
			}
		}()

		app.Providers.Logger.Info("metrics listener started",
			"addr", app.Config.Observability.PrometheusAddr)
	}

	app.Providers.Logger.Info("stope backend started",
		"data_dir", app.Config.DataDir,
		"workers", app.Config.Engine.Workers,
		"watcher", app.Watcher != nil)

	<-ctx.Done()
	app.Providers.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()

	var srvErr error
	if metricsSrv != nil {
		srvErr = metricsSrv.Shutdown(shutdownCtx)
	}

	closeErr := app.Close(shutdownCtx)
	if closeErr != nil || srvErr != nil {
		return fmt.Errorf("shutdown: %w", errors.Join(srvErr, closeErr))
	}

	return nil
}
