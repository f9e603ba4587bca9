package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the hosted Bugsnag notify API.
	DefaultEndpoint = "https://notify.bugsnag.com"
	// PayloadVersion is the notifier payload schema version sent with each report.
	PayloadVersion = "5"

	headerAPIKey         = "Bugsnag-Api-Key"
	headerPayloadVersion = "Bugsnag-Payload-Version"
	headerSentAt         = "Bugsnag-Sent-At"
)

// HTTPTransport posts encoded reports to a collector.
type HTTPTransport struct {
	Endpoint  string
	APIKey    string
	Client    *http.Client
	UserAgent string
	Clock     func() time.Time
	Logger    *logging.Logger
}

// Post sends body once. Any completed HTTP exchange counts as delivered,
// whatever its status; only failures to complete the exchange are errors.
func (t *HTTPTransport) Post(ctx context.Context, body []byte) error {
	if t == nil {
		return errors.New("http transport is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, t.APIKey)
	req.Header.Set(headerPayloadVersion, PayloadVersion)
	req.Header.Set(headerSentAt, t.now().Format(time.RFC3339))
	if ua := strings.TrimSpace(t.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // body is drained below
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest && t.Logger != nil {
		t.Logger.Warn("Collector rejected report",
			zap.String("endpoint", t.endpoint()),
			zap.Int("status", resp.StatusCode))
	}
	return nil
}

func (t *HTTPTransport) endpoint() string {
	if endpoint := strings.TrimSpace(t.Endpoint); endpoint != "" {
		return endpoint
	}
	return DefaultEndpoint
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}
