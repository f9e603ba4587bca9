package handlers

import (
	"net/http"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/faultline/faultline/internal/core/payload"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// NotifierInfo is the notifier block this build writes into reports.
type NotifierInfo struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	PayloadVersion string `json:"payload_version"`
}

// RuntimeInfo describes the host process.
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	App          BuildInfo         `json:"app"`
	Notifier     NotifierInfo      `json:"notifier"`
	Dependencies map[string]string `json:"dependencies"`
	Runtime      RuntimeInfo       `json:"runtime"`
}

var (
	buildMu sync.RWMutex
	build   = BuildInfo{Name: "faultline", Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records the values main was linked with.
func SetVersionInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	build.Version, build.Commit, build.BuildDate = version, commit, buildDate
}

// SetAppName overrides the reported binary name. Empty is ignored.
func SetAppName(name string) {
	if name == "" {
		return
	}
	buildMu.Lock()
	defer buildMu.Unlock()
	build.Name = name
}

func currentBuild() BuildInfo {
	buildMu.RLock()
	defer buildMu.RUnlock()
	b := build
	b.GoVersion = runtime.Version()
	return b
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	deps := crucible.GetVersion()
	writeJSON(w, http.StatusOK, VersionResponse{
		App: currentBuild(),
		Notifier: NotifierInfo{
			Name:           payload.NotifierName,
			Version:        payload.NotifierVersion,
			PayloadVersion: payload.Version,
		},
		Dependencies: map[string]string{
			"gofulmen": deps.Gofulmen,
			"crucible": deps.Crucible,
		},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}
