package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/faultline/faultline/internal/core"
)

// Config is the complete faultline configuration. Layers, lowest first:
// built-in defaults, the YAML config file, FAULTLINE_* environment
// variables, runtime overrides.
type Config struct {
	APIKey          string   `mapstructure:"api_key" yaml:"api_key"`
	Endpoint        string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProjectDir      string   `mapstructure:"project_dir" yaml:"project_dir"`
	MethodsToIgnore []string `mapstructure:"methods_to_ignore" yaml:"methods_to_ignore"`

	App            AppConfig            `mapstructure:"app" yaml:"app"`
	Device         DeviceConfig         `mapstructure:"device" yaml:"device"`
	User           UserConfig           `mapstructure:"user" yaml:"user"`
	OfflineStorage OfflineStorageConfig `mapstructure:"offline_storage" yaml:"offline_storage"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit" yaml:"rate_limit"`
	Store          StoreConfig          `mapstructure:"store" yaml:"store"`
	Redis          RedisConfig          `mapstructure:"redis" yaml:"redis"`
	Transport      TransportConfig      `mapstructure:"transport" yaml:"transport"`
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics" yaml:"metrics"`
}

// AppConfig describes the reporting application.
type AppConfig struct {
	Version      string `mapstructure:"version" yaml:"version"`
	ReleaseStage string `mapstructure:"release_stage" yaml:"release_stage"`
	Type         string `mapstructure:"type" yaml:"type"`
}

// DeviceConfig overrides host detection. Empty fields are detected.
type DeviceConfig struct {
	Hostname  string `mapstructure:"hostname" yaml:"hostname"`
	OSVersion string `mapstructure:"os_version" yaml:"os_version"`
}

// UserConfig identifies the affected user.
type UserConfig struct {
	ID    string `mapstructure:"id" yaml:"id"`
	Name  string `mapstructure:"name" yaml:"name"`
	Email string `mapstructure:"email" yaml:"email"`
}

// OfflineStorageConfig controls where undeliverable reports are kept.
type OfflineStorageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// RateLimitConfig configures the windowed rate limiter.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Backend is file, libsql or redis.
	Backend      string                `mapstructure:"backend" yaml:"backend"`
	File         string                `mapstructure:"file" yaml:"file"`
	Key          string                `mapstructure:"key" yaml:"key"`
	Limits       []LimitConfig         `mapstructure:"limits" yaml:"limits"`
	Notification RateLimitNoticeConfig `mapstructure:"notification" yaml:"notification"`
}

// LimitConfig is one window. From the environment it is written "1h:10".
type LimitConfig struct {
	Window time.Duration `mapstructure:"window" yaml:"window"`
	Max    uint32        `mapstructure:"max" yaml:"max"`
}

// RateLimitNoticeConfig shapes the notice sent when a limit is first reached.
type RateLimitNoticeConfig struct {
	Severity string         `mapstructure:"severity" yaml:"severity"`
	Metadata map[string]any `mapstructure:"metadata" yaml:"metadata"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// RedisConfig configures the shared redis limiter backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// TransportConfig controls the HTTP client used to reach the collector.
type TransportConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig contains HTTP server configuration for the local collector.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// CaptureDir receives every accepted report body when set.
	CaptureDir string `mapstructure:"capture_dir" yaml:"capture_dir"`
	// MaxBodyBytes bounds accepted report bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Profile is SIMPLE or STRUCTURED.
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// SendLimits converts the configured windows.
func (c RateLimitConfig) SendLimits() ([]core.SendLimit, error) {
	limits := make([]core.SendLimit, 0, len(c.Limits))
	for i, l := range c.Limits {
		if l.Window <= 0 {
			return nil, fmt.Errorf("rate_limit.limits[%d]: window must be positive", i)
		}
		if l.Window%time.Millisecond != 0 {
			return nil, fmt.Errorf("rate_limit.limits[%d]: window %s is not a whole number of milliseconds", i, l.Window)
		}
		limits = append(limits, core.NewSendLimit(l.Window, l.Max))
	}
	return limits, nil
}

// NotificationOptions converts the notice settings. It returns nil when
// neither severity nor metadata is set.
func (c RateLimitConfig) NotificationOptions() (*core.NotificationOptions, error) {
	opts := &core.NotificationOptions{}
	empty := true

	if value := strings.TrimSpace(c.Notification.Severity); value != "" {
		severity, err := core.ParseSeverity(value)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.notification.severity: %w", err)
		}
		opts.Severity = &severity
		empty = false
	}
	if len(c.Notification.Metadata) > 0 {
		data, err := json.Marshal(c.Notification.Metadata)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.notification.metadata: %w", err)
		}
		opts.Metadata = data
		empty = false
	}

	if empty {
		return nil, nil
	}
	return opts, nil
}

// ParseLimit parses "<duration>:<max>", for example "1h:10".
func ParseLimit(value string) (LimitConfig, error) {
	window, max, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return LimitConfig{}, fmt.Errorf("invalid limit %q: want <window>:<max>", value)
	}
	d, err := time.ParseDuration(strings.TrimSpace(window))
	if err != nil {
		return LimitConfig{}, fmt.Errorf("invalid limit window %q: %w", window, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(max), 10, 32)
	if err != nil {
		return LimitConfig{}, fmt.Errorf("invalid limit max %q: %w", max, err)
	}
	return LimitConfig{Window: d, Max: uint32(n)}, nil
}
