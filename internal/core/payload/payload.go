// Package payload builds the JSON body the collector accepts.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/faultline/faultline/internal/core"
)

const (
	// Version is the payload schema version.
	Version = "5"

	NotifierName = "faultline"
	NotifierURL  = "https://github.com/faultline/faultline"

	// customTab receives caller metadata that is not a JSON object.
	customTab = "custom"
)

// NotifierVersion is reported in every payload. It is set at build time.
var NotifierVersion = "dev"

type notification struct {
	PayloadVersion string   `json:"payloadVersion"`
	Notifier       notifier `json:"notifier"`
	Events         []event  `json:"events"`
}

type notifier struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

type event struct {
	Exceptions   []exception     `json:"exceptions"`
	Severity     *core.Severity  `json:"severity,omitempty"`
	Context      string          `json:"context,omitempty"`
	Device       core.DeviceInfo `json:"device"`
	App          *core.AppInfo   `json:"app,omitempty"`
	User         *core.User      `json:"user,omitempty"`
	MetaData     map[string]any  `json:"metaData,omitempty"`
	GroupingHash string          `json:"groupingHash,omitempty"`
}

type exception struct {
	ErrorClass string       `json:"errorClass"`
	Message    string       `json:"message"`
	Stacktrace []core.Frame `json:"stacktrace"`
}

// Encoder turns reports into wire bodies using the device, app and user
// information it was built with.
type Encoder struct {
	Device core.DeviceInfo
	App    *core.AppInfo
	User   *core.User
}

// Encode serializes report into a single-event notification.
func (e *Encoder) Encode(report core.Report) ([]byte, error) {
	tabs, err := metaData(report.Metadata)
	if err != nil {
		return nil, err
	}

	frames := report.Stacktrace
	if frames == nil {
		frames = []core.Frame{}
	}

	body := notification{
		PayloadVersion: Version,
		Notifier: notifier{
			Name:    NotifierName,
			Version: NotifierVersion,
			URL:     NotifierURL,
		},
		Events: []event{{
			Exceptions: []exception{{
				ErrorClass: report.ErrorClass,
				Message:    report.Message,
				Stacktrace: frames,
			}},
			Severity:     report.Severity,
			Context:      report.Context,
			Device:       e.Device,
			App:          nonEmptyApp(e.App),
			User:         nonEmptyUser(e.User),
			MetaData:     tabs,
			GroupingHash: report.GroupingHash,
		}},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return data, nil
}

// metaData spreads object metadata into tabs and puts any other value under
// the custom tab. Absent or null metadata yields nil so the field is omitted.
func metaData(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if tabs, ok := value.(map[string]any); ok {
		return tabs, nil
	}
	return map[string]any{customTab: value}, nil
}

func nonEmptyApp(app *core.AppInfo) *core.AppInfo {
	if app == nil || *app == (core.AppInfo{}) {
		return nil
	}
	return app
}

func nonEmptyUser(user *core.User) *core.User {
	if user == nil || *user == (core.User{}) {
		return nil
	}
	return user
}

// DeviceFromHost collects the hostname and operating system. Lookups that
// fail leave the field empty.
func DeviceFromHost() core.DeviceInfo {
	hostname, _ := os.Hostname()
	return core.DeviceInfo{
		OSVersion: osVersion(),
		Hostname:  hostname,
	}
}

func osVersion() string {
	version := runtime.GOOS
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		if release := strings.TrimSpace(string(data)); release != "" {
			version += ":" + release
		}
	}
	return version
}
