package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/core/payload"
	"github.com/faultline/faultline/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	if version != "" {
		payload.NotifierVersion = version
	}
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Report errors to a Bugsnag-compatible collector",
	Long: `faultline sends error reports to a Bugsnag-compatible collector.

Reports that cannot be delivered are kept on disk and retried later.
A windowed rate limiter, shared through a file, libsql or redis, keeps
a crash loop from flooding the collector.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve starts real telemetry.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s)", config.DefaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

func initLogger() {
	observability.InitCLILogger(config.AppName, verbose)
}

// loadConfig reads the layered configuration and applies its log level.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, cfgFile, overrides...)
	if err != nil {
		return nil, err
	}
	observability.InitCLILoggerLevel(config.AppName, cfg.Logging.Level, verbose)
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", cfgFile),
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("offline_storage", cfg.OfflineStorage.Enabled))
	return cfg, nil
}
