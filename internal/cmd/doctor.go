package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/observability"
)

// doctorCheck is one line of the doctor report.
type doctorCheck struct {
	Name   string
	OK     bool
	Detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on configuration, offline storage and the rate limit backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		logger.Info("=== " + config.AppName + " doctor ===")
		logger.Info("")

		checks := runDoctorChecks(cmd.Context())
		failed := 0
		for i, c := range checks {
			line := fmt.Sprintf("[%d/%d] %s... ", i+1, len(checks), c.Name)
			if c.OK {
				logger.Info(line + "ok " + c.Detail)
				continue
			}
			failed++
			logger.Warn(line+"FAILED "+c.Detail, zap.String("check", c.Name))
		}

		logger.Info("")
		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(checks))
		}
		logger.Info("All checks passed.")
		return nil
	},
}

func runDoctorChecks(ctx context.Context) []doctorCheck {
	version := crucible.GetVersion()
	checks := []doctorCheck{
		{Name: "Checking Go version", OK: true, Detail: runtime.Version()},
		{Name: "Checking Gofulmen", OK: version.Gofulmen != "", Detail: version.Gofulmen},
		{Name: "Checking environment", OK: true, Detail: runtime.GOOS + "/" + runtime.GOARCH},
	}

	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return append(checks, doctorCheck{Name: "Loading configuration", Detail: err.Error()})
	}
	source := cfgFile
	if source == "" {
		source = config.DefaultConfigPath()
		if !fileExists(source) {
			source = "defaults"
		}
	}
	checks = append(checks,
		doctorCheck{Name: "Loading configuration", OK: true, Detail: source},
		doctorCheck{Name: "Checking API key", OK: strings.TrimSpace(cfg.APIKey) != "", Detail: keyStatus(cfg.APIKey)},
		doctorCheck{Name: "Checking endpoint", OK: strings.TrimSpace(cfg.Endpoint) != "", Detail: cfg.Endpoint},
		checkOfflineDir(cfg),
		checkRateLimitBackend(ctx, cfg),
	)
	return checks
}

func checkOfflineDir(cfg *config.Config) doctorCheck {
	c := doctorCheck{Name: "Checking offline storage"}
	if !cfg.OfflineStorage.Enabled {
		c.OK = true
		c.Detail = "disabled"
		return c
	}
	dir := strings.TrimSpace(cfg.OfflineStorage.Dir)
	if dir == "" {
		c.Detail = "enabled but no directory configured"
		return c
	}
	if err := dirWritable(dir); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = dir
	return c
}

func checkRateLimitBackend(ctx context.Context, cfg *config.Config) doctorCheck {
	c := doctorCheck{Name: "Checking rate limit backend"}
	if !cfg.RateLimit.Enabled {
		c.OK = true
		c.Detail = "disabled"
		return c
	}
	backend, err := openLimiterBackend(ctx, cfg)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	defer backend.close() //nolint:errcheck

	if _, err := backend.store.GetLimiterState(ctx, backend.key); err != nil {
		c.Detail = fmt.Sprintf("%s: %v", backend.name, err)
		return c
	}
	c.OK = true
	c.Detail = backend.name + " " + backend.key
	return c
}

// dirWritable reports whether a file can be created in dir. A missing
// directory counts as writable when its parent is, since it is created on
// first use.
func dirWritable(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("%s does not exist", dir)
		}
		return dirWritable(parent)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(starterConfig), 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

const starterConfig = `# faultline config - created by 'faultline doctor init'
# api_key: ""  # or set FAULTLINE_API_KEY
endpoint: https://notify.bugsnag.com
app:
  release_stage: development
offline_storage:
  enabled: true
rate_limit:
  enabled: false
  backend: file
  limits:
    - window: 1h
      max: 10
    - window: 24h
      max: 100
`

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func keyStatus(key string) string {
	if strings.TrimSpace(key) != "" {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}
