package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/config"
	"github.com/dcache/gplazma/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the login engine",
	Long: `Run the login engine in the foreground until interrupted.

The login stack is loaded once at startup and, with login.watch enabled,
reloaded whenever its file changes. A broken stack is rejected and the
previous one stays in service. With metrics enabled the Prometheus
endpoint is served on metrics.port.

Examples:
  # Run with the default config location
  gplazma serve

  # Run with a custom config file
  gplazma serve --config /etc/gplazma/config.yaml

  # Override settings from the environment
  GPLAZMA_LOGGING_LEVEL=DEBUG GPLAZMA_LOGIN_WATCH=true gplazma serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Telemetry(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	var (
		m          *metrics.Metrics
		metricsSrv *metrics.Server
	)
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry()
		m = metrics.NewMetrics(registry)
		metricsSrv, err = metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), registry)
		if err != nil {
			return err
		}
	}

	e := newEngine(ctx, cfg, m)
	if err := e.Err(); err != nil {
		if !cfg.Login.Watch {
			_ = e.Close()
			return fmt.Errorf("login configuration %s: %w", cfg.Login.ConfigPath, err)
		}
		logger.Error("Login configuration unusable, logins are refused until it is fixed",
			logger.ConfigPath(cfg.Login.ConfigPath), logger.Err(err))
	} else {
		logger.Info("Login engine ready",
			logger.ConfigPath(cfg.Login.ConfigPath), logger.Items(len(e.Items())),
			"optional_only", cfg.Login.OptionalOnly.String(), "cache", cfg.Cache.Enabled)
	}

	g, gctx := errgroup.WithContext(ctx)
	if metricsSrv != nil {
		g.Go(func() error { return metricsSrv.Serve(gctx) })
	}
	if cfg.Login.Watch {
		g.Go(func() error { return e.Watch(gctx) })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Login engine is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case <-gctx.Done():
	}
	cancel()

	return shutdown(g, e, cfg.ShutdownTimeout)
}

// shutdown waits for the background tasks, bounded by timeout, then stops
// the engine's plugins.
func shutdown(g *errgroup.Group, e *engine, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("shutdown timed out after %s", timeout)
	}

	if cerr := e.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		logger.Error("Shutdown error", logger.Err(err))
		return err
	}
	logger.Info("Login engine stopped")
	return nil
}
