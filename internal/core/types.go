package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity classifies how serious a reported error is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity validates and normalizes a severity string.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(SeverityError):
		return SeverityError, nil
	case string(SeverityWarning), "warn":
		return SeverityWarning, nil
	case string(SeverityInfo):
		return SeverityInfo, nil
	default:
		return "", fmt.Errorf("unsupported severity: %s", value)
	}
}

// SendLimit caps the number of sends inside a trailing window.
type SendLimit struct {
	Window   time.Duration
	MaxCount uint32
}

// NewSendLimit returns a limit permitting maxCount sends per window. The
// window is truncated to whole milliseconds, the precision it is stored at.
func NewSendLimit(window time.Duration, maxCount uint32) SendLimit {
	return SendLimit{Window: window.Truncate(time.Millisecond), MaxCount: maxCount}
}

type sendLimitJSON struct {
	Duration int64  `json:"duration"`
	Limit    uint32 `json:"limit"`
}

// MarshalJSON encodes the window in milliseconds.
func (l SendLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(sendLimitJSON{Duration: l.Window.Milliseconds(), Limit: l.MaxCount})
}

// UnmarshalJSON decodes a window stored in milliseconds.
func (l *SendLimit) UnmarshalJSON(data []byte) error {
	var raw sendLimitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Window = time.Duration(raw.Duration) * time.Millisecond
	l.MaxCount = raw.Limit
	return nil
}

// NotificationOptions shapes the notice sent when a rate limit is first reached.
type NotificationOptions struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Severity *Severity       `json:"severity,omitempty"`
}

// Frame is a single stack frame in a report.
type Frame struct {
	File       string `json:"file"`
	LineNumber int    `json:"lineNumber"`
	Method     string `json:"method"`
	InProject  bool   `json:"inProject"`
}

// DeviceInfo describes the host that produced a report.
type DeviceInfo struct {
	OSVersion string `json:"osVersion"`
	Hostname  string `json:"hostname"`
}

// AppInfo describes the reporting application.
type AppInfo struct {
	Version      string `json:"version,omitempty"`
	ReleaseStage string `json:"releaseStage,omitempty"`
	Type         string `json:"type,omitempty"`
}

// User identifies the user affected by an error.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Report is the structured content of a single notification attempt.
type Report struct {
	ErrorClass   string
	Message      string
	Stacktrace   []Frame
	Severity     *Severity
	Context      string
	GroupingHash string
	Metadata     json.RawMessage
}

// Transport delivers a serialized report to the collector.
type Transport interface {
	Post(ctx context.Context, body []byte) error
}
