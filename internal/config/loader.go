// Package config loads faultline configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "faultline"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "FAULTLINE_"
)

var (
	appConfig   *Config
	appSettings map[string]any
	configMu    sync.RWMutex
)

// EnvVarSpec maps an environment variable to a config path.
type EnvVarSpec = gfconfig.EnvVarSpec

const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load builds the configuration. configFile may be empty, in which case the
// XDG config file is read when it exists. An explicit configFile must exist.
// Safe to call repeatedly.
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	// Full-path names such as FAULTLINE_RATE_LIMIT_ENABLED.
	v.SetEnvPrefix(strings.TrimSuffix(EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases such as FAULTLINE_LOG_LEVEL.
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := v.MergeConfigMap(envOverrides); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	for _, overrides := range runtimeOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to apply runtime overrides: %w", err)
		}
	}

	settings := v.AllSettings()

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToLimitHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg, settings)
	return cfg, nil
}

// Validate checks values that would otherwise fail later and far from
// their source.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.RateLimit.Backend)) {
	case "", "file", "libsql", "redis":
	default:
		return fmt.Errorf("rate_limit.backend: unsupported backend %q", c.RateLimit.Backend)
	}
	if _, err := c.RateLimit.SendLimits(); err != nil {
		return err
	}
	if _, err := c.RateLimit.NotificationOptions(); err != nil {
		return err
	}
	return nil
}

func readConfigFile(v *viper.Viper, configFile string) error {
	explicit := strings.TrimSpace(configFile) != ""
	path := configFile
	if !explicit {
		path = DefaultConfigPath()
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// stringToLimitHook decodes "1h:10" into a LimitConfig.
func stringToLimitHook() mapstructure.DecodeHookFuncType {
	limitType := reflect.TypeOf(LimitConfig{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != limitType {
			return data, nil
		}
		return ParseLimit(data.(string))
	}
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Settings returns the merged key/value view of the most recently loaded
// configuration, with secrets redacted.
func Settings() map[string]any {
	configMu.RLock()
	defer configMu.RUnlock()
	return redact(appSettings)
}

func setConfig(cfg *Config, settings map[string]any) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
	appSettings = settings
}

var secretKeys = map[string]bool{
	"api_key":    true,
	"auth_token": true,
	"password":   true,
}

func redact(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch typed := v.(type) {
		case map[string]any:
			out[k] = redact(typed)
		case string:
			if secretKeys[k] && typed != "" {
				out[k] = "********"
			} else {
				out[k] = typed
			}
		default:
			out[k] = v
		}
	}
	return out
}

func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix
	return []EnvVarSpec{
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "REDIS_URL", Path: []string{"redis", "addr"}, Type: EnvString},
		{Name: prefix + "OFFLINE_DIR", Path: []string{"offline_storage", "dir"}, Type: EnvString},
		{Name: prefix + "RELEASE_STAGE", Path: []string{"app", "release_stage"}, Type: EnvString},
		{Name: prefix + "APP_VERSION", Path: []string{"app", "version"}, Type: EnvString},

		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	dir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory.
func DefaultDataDir() string {
	dir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return "."
	}
	return dir
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	v.SetDefault("api_key", "")
	v.SetDefault("endpoint", "https://notify.bugsnag.com")
	v.SetDefault("project_dir", "")
	v.SetDefault("methods_to_ignore", []string{})

	v.SetDefault("app.version", "")
	v.SetDefault("app.release_stage", "")
	v.SetDefault("app.type", "")
	v.SetDefault("device.hostname", "")
	v.SetDefault("device.os_version", "")
	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")

	v.SetDefault("offline_storage.enabled", true)
	v.SetDefault("offline_storage.dir", filepath.Join(dataDir, "reports"))

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.backend", "file")
	v.SetDefault("rate_limit.file", filepath.Join(dataDir, "rate_limit.json"))
	v.SetDefault("rate_limit.key", "default")
	v.SetDefault("rate_limit.limits", []map[string]any{
		{"window": "1h", "max": 10},
		{"window": "24h", "max": 100},
	})
	v.SetDefault("rate_limit.notification.severity", "")
	v.SetDefault("rate_limit.notification.metadata", map[string]any{})

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", filepath.Join(dataDir, AppName+".db"))
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "faultline:ratelimit:")
	v.SetDefault("redis.lock_ttl", "5s")

	v.SetDefault("transport.timeout", "10s")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.capture_dir", "")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}
