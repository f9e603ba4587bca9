package cmd

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/config"
	errwrap "github.com/faultline/faultline/internal/errors"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/observability"
	"github.com/faultline/faultline/internal/server"
	"github.com/faultline/faultline/internal/server/handlers"
)

var (
	serverPort       int
	serverHost       string
	serverCaptureDir string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.New(errwrap.CodeServiceUnavailable, "telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local report collector",
	Long: `Run a local Bugsnag-compatible collector. Reports posted to / are
validated and, when a capture directory is set, written to it one file
per report. Point a notifier's endpoint at this server to inspect what it
sends.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read configuration and apply the log level`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if cmd.Flags().Changed("host") {
			overrides["server.host"] = serverHost
		}
		if cmd.Flags().Changed("port") {
			overrides["server.port"] = serverPort
		}
		if cmd.Flags().Changed("capture-dir") {
			overrides["server.capture_dir"] = serverCaptureDir
		}

		cfg, err := loadConfig(cmd.Context(), overrides)
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, config.AppName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		if dir := strings.TrimSpace(cfg.Server.CaptureDir); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errwrap.WrapConfigInvalid(cmd.Context(), err, "capture directory unavailable")
			}
		}

		logger.Info("Initializing collector sink",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		handlers.SetAppName(config.AppName)
		handlers.InitHealthManager(versionInfo.Version)
		if cfg.Metrics.Enabled {
			handlers.GetHealthManager().RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(cfg.Server, cfg.Metrics.Port)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Handlers run LIFO: the server stops before the logger flushes.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Debug("Logger sync returned error", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("Collector sink stopped", zap.Int64("reports_received", srv.Collector().Received()))
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			reloaded, err := config.Load(ctx, cfgFile, overrides)
			if err != nil {
				logger.Error("Failed to reload configuration", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			// Listener and capture settings need a restart; the log level does not.
			observability.InitServerLogger(config.AppName, reloaded.Logging.Level, config.AppName)
			logger = observability.ServerLogger
			logger.Info("Configuration reloaded", zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8090, "server port")
	serveCmd.Flags().StringVar(&serverCaptureDir, "capture-dir", "", "write each accepted report to this directory")
}
