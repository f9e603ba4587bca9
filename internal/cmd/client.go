package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/engine"
	"github.com/faultline/faultline/internal/core/notifier"
	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/observability"
)

// limiterBackend is an opened rate limit state store and the key the
// configured limiter uses inside it.
type limiterBackend struct {
	name  string
	key   string
	store engine.RateLimitStore
	// db is set for the libsql backend, which also supports bulk admin queries.
	db    *store.Store
	close func() error
}

// openLimiterBackend opens the configured state store. The file backend
// creates the parent directory of its state file.
func openLimiterBackend(ctx context.Context, cfg *config.Config) (*limiterBackend, error) {
	rl := cfg.RateLimit
	switch strings.ToLower(strings.TrimSpace(rl.Backend)) {
	case "", "file":
		path := strings.TrimSpace(rl.File)
		if path == "" {
			path = filepath.Join(config.DefaultDataDir(), "rate_limit.json")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create rate limit directory: %w", err)
		}
		return &limiterBackend{name: "file", key: path, store: store.NewFileStateStore(), close: func() error { return nil }}, nil

	case "libsql":
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &limiterBackend{name: "libsql", key: rl.Key, store: db, db: db, close: db.Close}, nil

	case "redis":
		rs, err := store.NewRedisStateStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &limiterBackend{name: "redis", key: rl.Key, store: rs, close: rs.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", rl.Backend)
	}
}

// reset clears the configured key and reports whether anything was removed.
func (b *limiterBackend) reset(ctx context.Context) (int64, error) {
	switch s := b.store.(type) {
	case *store.FileStateStore:
		removed, err := s.ResetLimiterState(ctx, b.key)
		return boolCount(removed), err
	case *store.RedisStateStore:
		removed, err := s.ResetLimiterState(ctx, b.key)
		return boolCount(removed), err
	case *store.Store:
		return s.ResetLimiterStates(ctx, store.LimiterQuery{Key: b.key})
	default:
		return 0, fmt.Errorf("backend %s cannot be reset", b.name)
	}
}

func boolCount(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// appRuntime is a configured notifier client and the resources behind it.
type appRuntime struct {
	client  *notifier.Client
	limiter *engine.RateLimiter
	backend *limiterBackend
}

func (r *appRuntime) Close() error {
	if r == nil || r.backend == nil {
		return nil
	}
	return r.backend.close()
}

// openClient builds a notifier client from cfg: transport, device and app
// details, offline storage and, when enabled, the rate limiter.
func openClient(ctx context.Context, cfg *config.Config) (*appRuntime, error) {
	logger := observability.Logger()

	opts := notifier.Options{
		APIKey:          cfg.APIKey,
		Endpoint:        cfg.Endpoint,
		ProjectDir:      cfg.ProjectDir,
		MethodsToIgnore: cfg.MethodsToIgnore,
		HTTPClient:      &http.Client{Timeout: cfg.Transport.Timeout},
		Recorder:        metrics.DeliveryRecorder{},
		Logger:          logger,
	}
	if app := (core.AppInfo{Version: cfg.App.Version, ReleaseStage: cfg.App.ReleaseStage, Type: cfg.App.Type}); app != (core.AppInfo{}) {
		opts.App = &app
	}
	if user := (core.User{ID: cfg.User.ID, Name: cfg.User.Name, Email: cfg.User.Email}); user != (core.User{}) {
		opts.User = &user
	}

	client := notifier.New(opts)
	client.SetDevice(cfg.Device.Hostname, cfg.Device.OSVersion)

	if cfg.OfflineStorage.Enabled {
		dir := strings.TrimSpace(cfg.OfflineStorage.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create offline storage directory: %w", err)
		}
		client.UseOfflineStorage(dir)
	}

	rt := &appRuntime{client: client}
	if !cfg.RateLimit.Enabled {
		return rt, nil
	}

	backend, err := openLimiterBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.backend = backend

	limits, err := cfg.RateLimit.SendLimits()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	notice, err := cfg.RateLimit.NotificationOptions()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	limiter, err := engine.NewRateLimiter(ctx, engine.RateLimiterOptions{
		Store:        backend.store,
		Key:          backend.key,
		Limits:       limits,
		Notification: notice,
		Logger:       logger,
	})
	if err != nil && logger != nil {
		// The limiter still decides from memory.
		logger.Warn("Failed to persist rate limit state",
			zap.String("backend", backend.name),
			zap.String("key", backend.key),
			zap.Error(err))
	}
	rt.limiter = limiter
	client.SetRateLimiter(limiter)
	return rt, nil
}
