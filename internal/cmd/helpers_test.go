package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/output"
)

// testEnv is an isolated home, config file and collector for command tests.
type testEnv struct {
	configPath string
	offlineDir string
	stateFile  string
	received   *atomic.Int64
	sink       *httptest.Server
}

func newTestEnv(t *testing.T, rateLimited bool) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))

	env := &testEnv{
		offlineDir: filepath.Join(home, "reports"),
		stateFile:  filepath.Join(home, "state", "rate_limit.json"),
		received:   &atomic.Int64{},
	}
	env.sink = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(env.sink.Close)

	env.configPath = filepath.Join(home, "config.yaml")
	env.writeConfig(t, env.sink.URL, rateLimited)
	return env
}

func (e *testEnv) writeConfig(t *testing.T, endpoint string, rateLimited bool) {
	t.Helper()
	body := fmt.Sprintf(`api_key: test-key
endpoint: %s
offline_storage:
  enabled: true
  dir: %s
rate_limit:
  enabled: %t
  backend: file
  file: %s
  limits:
    - window: 1m
      max: 1
transport:
  timeout: 2s
`, endpoint, e.offlineDir, rateLimited, e.stateFile)
	require.NoError(t, os.WriteFile(e.configPath, []byte(body), 0o600))
}

// runCommand executes the root command with args and returns its stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores flag variables; cobra keeps values between executions.
func resetFlags() {
	cfgFile = ""
	verbose = false

	notifyClass, notifyMessage, notifySeverity = "", "", ""
	notifyContext, notifyGroupingHash, notifyMetadata = "", "", ""
	notifyOutput = string(output.FormatTable)

	retryContinueOnError = false
	retryOutput = string(output.FormatTable)

	pendingOutput = string(output.FormatTable)
	pendingOut = ""

	rateLimitStatusOutput = string(output.FormatTable)
	rateLimitListOutput = string(output.FormatTable)
	rateLimitListOut = ""
	rateLimitListPrefix = ""

	rateLimitResetAll = false
	rateLimitResetKey = ""
	rateLimitResetPrefix = ""
	rateLimitResetYes = false
	rateLimitResetDryRun = false
	rateLimitResetOutput = string(output.FormatTable)

	doctorInitForce = false
	extended = false
}
