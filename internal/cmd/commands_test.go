package cmd

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/output"
)

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &v))
	return v
}

func TestNotifyCommandDelivers(t *testing.T) {
	env := newTestEnv(t, false)

	out, err := runCommand(t, "notify", "--config", env.configPath,
		"--class", "DeployFailed", "--message", "migration timed out",
		"--severity", "warning", "--metadata", `{"deploy":{"id":42}}`,
		"--output-format", "json")
	require.NoError(t, err)

	view := decodeJSON[output.DeliveryView](t, out)
	assert.Equal(t, "sent", view.Outcome)
	assert.Equal(t, []string{"not_configured", "sending", "sent"}, view.Trace)
	assert.Equal(t, int64(1), env.received.Load())
}

func TestNotifyCommandRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := runCommand(t, "notify", "--config", env.configPath, "--class", "X", "--metadata", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid JSON")

	_, err = runCommand(t, "notify", "--config", env.configPath, "--class", "X", "--severity", "fatal")
	require.Error(t, err)
	assert.Equal(t, int64(0), env.received.Load())
}

func TestNotifyCommandRateLimited(t *testing.T) {
	env := newTestEnv(t, true)

	outcomes := make([]output.DeliveryView, 0, 3)
	for i := 0; i < 3; i++ {
		out, err := runCommand(t, "notify", "--config", env.configPath, "--class", "Boom", "--output-format", "json")
		require.NoError(t, err)
		outcomes = append(outcomes, decodeJSON[output.DeliveryView](t, out))
	}

	assert.Equal(t, "sent", outcomes[0].Outcome)
	assert.False(t, outcomes[0].Substituted)
	assert.Equal(t, "sent", outcomes[1].Outcome)
	assert.True(t, outcomes[1].Substituted)
	assert.Equal(t, "suppressed", outcomes[2].Outcome)
	assert.Equal(t, int64(2), env.received.Load())

	out, err := runCommand(t, "rate-limit", "status", "--config", env.configPath, "--output-format", "json")
	require.NoError(t, err)
	status := decodeJSON[output.RateLimitStatus](t, out)
	assert.Equal(t, "file", status.Backend)
	assert.True(t, status.Reached)
	require.Len(t, status.Windows, 1)
	assert.Equal(t, 3, status.Windows[0].Count)

	_, err = runCommand(t, "rate-limit", "reset", "--config", env.configPath)
	require.Error(t, err, "reset without --yes must refuse")

	_, err = runCommand(t, "rate-limit", "reset", "--config", env.configPath, "--yes")
	require.NoError(t, err)
	_, statErr := os.Stat(env.stateFile)
	assert.True(t, os.IsNotExist(statErr))

	out, err = runCommand(t, "notify", "--config", env.configPath, "--class", "Boom", "--output-format", "json")
	require.NoError(t, err)
	assert.Equal(t, "sent", decodeJSON[output.DeliveryView](t, out).Outcome)
}

func TestOfflineStoreThenRetryCommands(t *testing.T) {
	env := newTestEnv(t, false)

	down := httptest.NewServer(nil)
	deadURL := down.URL
	down.Close()
	env.writeConfig(t, deadURL, false)

	out, err := runCommand(t, "notify", "--config", env.configPath, "--class", "Offline", "--output-format", "json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStoredForRetry))
	view := decodeJSON[output.DeliveryView](t, out)
	assert.Equal(t, "stored_offline", view.Outcome)
	assert.NotEmpty(t, view.StoredID)

	out, err = runCommand(t, "pending", "--config", env.configPath, "--output-format", "json")
	require.NoError(t, err)
	pending := decodeJSON[[]output.PendingReport](t, out)
	require.Len(t, pending, 1)
	assert.Equal(t, view.StoredID, pending[0].ID)

	env.writeConfig(t, env.sink.URL, false)
	out, err = runCommand(t, "retry", "--config", env.configPath, "--output-format", "json")
	require.NoError(t, err)
	summary := decodeJSON[output.RetryView](t, out)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, int64(1), env.received.Load())

	out, err = runCommand(t, "pending", "--config", env.configPath, "--output-format", "json")
	require.NoError(t, err)
	assert.Empty(t, decodeJSON[[]output.PendingReport](t, out))
}

func TestConfigShowRedactsAPIKey(t *testing.T) {
	env := newTestEnv(t, false)

	out, err := runCommand(t, "config", "show", "--config", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "endpoint: "+env.sink.URL)
	assert.NotContains(t, out, "test-key")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-01-01")

	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "faultline 1.2.3\n", out)

	out, err = runCommand(t, "version", "--extended")
	require.NoError(t, err)
	assert.Contains(t, out, "Commit: abc123")
	assert.Contains(t, out, "payload version 5")
}
