// Package notifier is the application-facing reporting client.
package notifier

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/core/payload"
	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/core/transport"
)

// Options configures a Client. Only APIKey is required.
type Options struct {
	APIKey          string
	Endpoint        string
	ProjectDir      string
	MethodsToIgnore []string
	Device          *core.DeviceInfo
	App             *core.AppInfo
	User            *core.User
	HTTPClient      *http.Client
	// Transport replaces the HTTP transport built from Endpoint and APIKey.
	Transport core.Transport
	Recorder  delivery.Recorder
	Logger    *logging.Logger
	Clock     func() time.Time
}

// Client holds reporting configuration. Notifications snapshot it when they
// are created, so later changes never affect a notification in flight.
type Client struct {
	mu sync.RWMutex

	transport       core.Transport
	projectDir      string
	methodsToIgnore []string
	device          core.DeviceInfo
	app             *core.AppInfo
	user            *core.User
	reports         *store.ReportStore
	limiter         delivery.Limiter
	recorder        delivery.Recorder
	logger          *logging.Logger
}

// New builds a client. The device defaults to the current host.
func New(opts Options) *Client {
	c := &Client{
		transport:       opts.Transport,
		projectDir:      opts.ProjectDir,
		methodsToIgnore: append([]string(nil), opts.MethodsToIgnore...),
		recorder:        opts.Recorder,
		logger:          opts.Logger,
	}

	if c.transport == nil {
		c.transport = &transport.HTTPTransport{
			Endpoint:  opts.Endpoint,
			APIKey:    opts.APIKey,
			Client:    opts.HTTPClient,
			UserAgent: payload.NotifierName + "/" + payload.NotifierVersion,
			Clock:     opts.Clock,
			Logger:    opts.Logger,
		}
	}

	if opts.Device != nil {
		c.device = *opts.Device
	} else {
		c.device = payload.DeviceFromHost()
	}
	if opts.App != nil {
		app := *opts.App
		c.app = &app
	}
	if opts.User != nil {
		user := *opts.User
		c.user = &user
	}
	return c
}

// SetDevice overrides the non-empty fields of the device information.
func (c *Client) SetDevice(hostname, osVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(hostname) != "" {
		c.device.Hostname = hostname
	}
	if strings.TrimSpace(osVersion) != "" {
		c.device.OSVersion = osVersion
	}
}

// SetApp sets the application information sent with every report.
func (c *Client) SetApp(app core.AppInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.app = &app
}

// ResetApp stops sending application information.
func (c *Client) ResetApp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.app = nil
}

// SetUser sets the affected user sent with every report.
func (c *Client) SetUser(user core.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &user
}

// ResetUser stops sending user information.
func (c *Client) ResetUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
}

// SetProjectDir sets the source root used to mark frames as in project.
func (c *Client) SetProjectDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectDir = dir
}

// UseOfflineStorage keeps reports that fail to send in dir. The directory
// must exist; an empty dir disables offline storage.
func (c *Client) UseOfflineStorage(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(dir) == "" {
		c.reports = nil
		return
	}
	c.reports = store.NewReportStore(dir)
}

// SetRateLimiter enables rate limiting. A nil limiter disables it.
func (c *Client) SetRateLimiter(limiter delivery.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = limiter
}

// Reports returns the offline store, or nil when none is configured.
func (c *Client) Reports() *store.ReportStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reports
}

// RetryFromStorage re-sends stored reports, stopping at the first failure.
func (c *Client) RetryFromStorage(ctx context.Context) (store.RetrySummary, error) {
	return c.Retry(ctx, store.RetryOptions{})
}

// Retry re-sends stored reports with explicit options.
func (c *Client) Retry(ctx context.Context, opts store.RetryOptions) (store.RetrySummary, error) {
	return c.pipeline().RetryStored(ctx, opts)
}

func (c *Client) pipeline() *delivery.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := &delivery.Pipeline{
		Transport: c.transport,
		Limiter:   c.limiter,
		Encoder: &payload.Encoder{
			Device: c.device,
			App:    copyApp(c.app),
			User:   copyUser(c.user),
		},
		Recorder: c.recorder,
		Logger:   c.logger,
	}
	// A nil *ReportStore in the interface field would not compare equal to nil.
	if c.reports != nil {
		p.Reports = c.reports
	}
	return p
}

func copyApp(app *core.AppInfo) *core.AppInfo {
	if app == nil {
		return nil
	}
	clone := *app
	return &clone
}

func copyUser(user *core.User) *core.User {
	if user == nil {
		return nil
	}
	clone := *user
	return &clone
}
