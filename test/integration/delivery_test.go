package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/core/engine"
	"github.com/faultline/faultline/internal/core/notifier"
	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/server"
)

// startSink runs a collector that captures every accepted report into dir.
func startSink(t *testing.T, dir string) (*httptest.Server, *server.Server) {
	t.Helper()
	srv := server.New(config.ServerConfig{Host: "127.0.0.1", CaptureDir: dir}, 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func newClient(endpoint string) *notifier.Client {
	return notifier.New(notifier.Options{
		APIKey:     "integration-key",
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
		Device:     &core.DeviceInfo{Hostname: "integration"},
	})
}

// capturedClasses returns the error class of each captured report, oldest first.
func capturedClasses(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	classes := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)

		var body struct {
			Events []struct {
				Exceptions []struct {
					ErrorClass string `json:"errorClass"`
				} `json:"exceptions"`
			} `json:"events"`
		}
		require.NoError(t, json.Unmarshal(data, &body))
		require.Len(t, body.Events, 1)
		require.Len(t, body.Events[0].Exceptions, 1)
		classes = append(classes, body.Events[0].Exceptions[0].ErrorClass)
	}
	return classes
}

func TestOfflineReportsAreRetriedAgainstSink(t *testing.T) {
	ctx := context.Background()
	offlineDir := t.TempDir()

	down := httptest.NewServer(http.NotFoundHandler())
	deadURL := down.URL
	down.Close()

	client := newClient(deadURL)
	client.UseOfflineStorage(offlineDir)

	for _, class := range []string{"First", "Second"} {
		n := client.Notify(class, "collector unreachable")
		err := n.Send(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrStoredForRetry))
		assert.Equal(t, delivery.StateStoredOffline, n.Result().Outcome)
		assert.NotEmpty(t, n.Result().StoredID)
	}

	pending, err := client.Reports().ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	captureDir := t.TempDir()
	sink, srv := startSink(t, captureDir)

	retrying := newClient(sink.URL)
	retrying.UseOfflineStorage(offlineDir)

	summary, err := retrying.Retry(ctx, store.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Sent)
	assert.Empty(t, summary.Remaining)
	assert.Equal(t, int64(2), srv.Collector().Received())

	pending, err = retrying.Reports().ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ElementsMatch(t, []string{"First", "Second"}, capturedClasses(t, captureDir))
}

func TestRateLimitIsSharedThroughStateFile(t *testing.T) {
	ctx := context.Background()
	captureDir := t.TempDir()
	sink, srv := startSink(t, captureDir)
	stateFile := filepath.Join(t.TempDir(), "rate_limit.json")

	newLimited := func() *notifier.Client {
		limiter, err := engine.NewRateLimiter(ctx, engine.RateLimiterOptions{
			Store:  store.NewFileStateStore(),
			Key:    stateFile,
			Limits: []core.SendLimit{core.NewSendLimit(time.Minute, 1)},
		})
		require.NoError(t, err)

		client := newClient(sink.URL)
		client.SetRateLimiter(limiter)
		return client
	}

	first := newLimited()
	second := newLimited()

	n := first.Notify("Boom", "one")
	require.NoError(t, n.Send(ctx))
	assert.Equal(t, delivery.StateSent, n.Result().Outcome)
	assert.False(t, n.Result().Substituted)

	n = second.Notify("Boom", "two")
	require.NoError(t, n.Send(ctx))
	assert.Equal(t, delivery.StateSent, n.Result().Outcome)
	assert.True(t, n.Result().Substituted)

	n = first.Notify("Boom", "three")
	require.NoError(t, n.Send(ctx))
	assert.Equal(t, delivery.StateSuppressed, n.Result().Outcome)

	assert.Equal(t, int64(2), srv.Collector().Received())

	classes := capturedClasses(t, captureDir)
	require.Len(t, classes, 2)
	assert.Contains(t, classes, "Boom")
	assert.Contains(t, classes, delivery.RateLimitClass)

	state, err := store.NewFileStateStore().GetLimiterState(ctx, stateFile)
	require.NoError(t, err)
	require.NotNil(t, state)
	usage := engine.Usage(*state, time.Now().UTC())
	require.Len(t, usage, 1)
	assert.Equal(t, 3, usage[0].Count)
	assert.True(t, usage[0].Reached())
}
