package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/metrics"
)

// DefaultMaxBodyBytes bounds a report body when none is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// APIKeyHeader carries the project key on every report.
const APIKeyHeader = "Bugsnag-Api-Key"

// Collector accepts report bodies posted by notifiers, validates their shape
// and optionally writes each one to CaptureDir.
type Collector struct {
	CaptureDir   string
	MaxBodyBytes int64
	Logger       *logging.Logger
	Clock        func() time.Time

	received atomic.Int64
}

// CollectorResponse acknowledges an accepted report.
type CollectorResponse struct {
	ID     string `json:"id"`
	Events int    `json:"events"`
	File   string `json:"file,omitempty"`
}

type reportEnvelope struct {
	APIKey         string            `json:"apiKey"`
	PayloadVersion string            `json:"payloadVersion"`
	Notifier       *json.RawMessage  `json:"notifier"`
	Events         []json.RawMessage `json:"events"`
}

// Received returns the number of accepted reports.
func (c *Collector) Received() int64 {
	if c == nil {
		return 0
	}
	return c.received.Load()
}

// ServeHTTP handles POST / with a report body.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			metrics.RecordSinkReport("too_large", 0)
			respondWithError(w, r, errors.NewErrorEnvelope("PAYLOAD_TOO_LARGE",
				fmt.Sprintf("report body exceeds %d bytes", limit)))
			return
		}
		metrics.RecordSinkReport("rejected", 0)
		respondWithError(w, r, errors.NewErrorEnvelope("INVALID_INPUT", "failed to read report body"))
		return
	}

	var report reportEnvelope
	if err := json.Unmarshal(body, &report); err != nil {
		c.reject(w, r, "report body is not valid JSON")
		return
	}
	if apiKey == "" {
		apiKey = report.APIKey
	}
	switch {
	case apiKey == "":
		metrics.RecordSinkReport("rejected", 0)
		respondWithError(w, r, errors.NewErrorEnvelope("UNAUTHORIZED", "missing "+APIKeyHeader+" header"))
		return
	case report.Notifier == nil:
		c.reject(w, r, "report has no notifier")
		return
	case len(report.Events) == 0:
		c.reject(w, r, "report has no events")
		return
	}

	resp := CollectorResponse{ID: uuid.New().String(), Events: len(report.Events)}
	if c.CaptureDir != "" {
		path, err := c.capture(resp.ID, body)
		if err != nil {
			metrics.RecordSinkReport("rejected", 0)
			if c.Logger != nil {
				c.Logger.Error("Failed to capture report", zap.String("dir", c.CaptureDir), zap.Error(err))
			}
			respondWithError(w, r, errors.NewErrorEnvelope("INTERNAL_ERROR", "failed to capture report"))
			return
		}
		resp.File = filepath.Base(path)
	}

	c.received.Add(1)
	metrics.RecordSinkReport("accepted", len(report.Events))
	if c.Logger != nil {
		c.Logger.Info("Report received",
			zap.String("id", resp.ID),
			zap.Int("events", resp.Events),
			zap.String("payload_version", report.PayloadVersion))
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (c *Collector) reject(w http.ResponseWriter, r *http.Request, message string) {
	metrics.RecordSinkReport("rejected", 0)
	respondWithError(w, r, errors.NewErrorEnvelope("INVALID_INPUT", message))
}

// capture names files <unix-nanos>_<id>.json so a directory listing sorts by arrival.
func (c *Collector) capture(id string, body []byte) (string, error) {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock()
	}
	path := filepath.Join(c.CaptureDir, fmt.Sprintf("%d_%s.json", now.UnixNano(), id))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
