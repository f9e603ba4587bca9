package output

import (
	"fmt"
	"strings"
	"time"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders the views printed by the CLI.
type Formatter interface {
	FormatPending(reports []PendingReport) (string, error)
	FormatRateLimit(status RateLimitStatus) (string, error)
	FormatLimiterEntries(entries []LimiterRow) (string, error)
	FormatRetry(summary RetryView) (string, error)
	FormatDelivery(view DeliveryView) (string, error)
}

// PendingReport is one stored report awaiting retry.
type PendingReport struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Size     int64     `json:"size_bytes"`
	StoredAt time.Time `json:"stored_at"`
}

// WindowStatus is the usage of one configured window.
type WindowStatus struct {
	Window  time.Duration `json:"window"`
	Max     uint32        `json:"max"`
	Count   int           `json:"count"`
	Reached bool          `json:"reached"`
}

// RateLimitStatus summarizes a limiter.
type RateLimitStatus struct {
	Backend   string         `json:"backend"`
	Key       string         `json:"key"`
	Enabled   bool           `json:"enabled"`
	Reached   bool           `json:"reached"`
	Triggered bool           `json:"triggered"`
	Windows   []WindowStatus `json:"windows"`
	LastSend  *time.Time     `json:"last_send,omitempty"`
}

// LimiterRow is a stored limiter as listed by the admin commands.
type LimiterRow struct {
	Key       string    `json:"key"`
	Sends     int       `json:"sends"`
	Triggered bool      `json:"triggered"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetryView is the result of draining stored reports.
type RetryView struct {
	Attempted int      `json:"attempted"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Remaining []string `json:"remaining,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DeliveryView is the result of a single notify.
type DeliveryView struct {
	Outcome     string   `json:"outcome"`
	Trace       []string `json:"trace"`
	Substituted bool     `json:"substituted"`
	StoredID    string   `json:"stored_id,omitempty"`
	Warning     string   `json:"warning,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}
