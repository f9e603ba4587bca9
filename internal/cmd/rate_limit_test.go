package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/store"
)

func TestLimiterStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	configured := []core.SendLimit{core.NewSendLimit(time.Minute, 1), core.NewSendLimit(time.Hour, 10)}

	t.Run("NothingStored", func(t *testing.T) {
		status := limiterStatus("file", "state.json", true, nil, configured, now)
		assert.False(t, status.Reached)
		assert.False(t, status.Triggered)
		assert.Nil(t, status.LastSend)
		require.Len(t, status.Windows, 2)
		assert.Equal(t, 0, status.Windows[0].Count)
	})

	t.Run("Reached", func(t *testing.T) {
		state := &core.LimiterState{
			Limits:            configured,
			SentNotifications: []time.Time{now.Add(-30 * time.Second), now.Add(-time.Second)},
			Triggered:         true,
		}
		status := limiterStatus("libsql", "default", true, state, configured, now)
		assert.True(t, status.Reached)
		assert.True(t, status.Triggered)
		assert.True(t, status.Windows[0].Reached)
		assert.False(t, status.Windows[1].Reached)
		require.NotNil(t, status.LastSend)
		assert.Equal(t, now.Add(-time.Second), *status.LastSend)
	})

	t.Run("StaleTriggerCleared", func(t *testing.T) {
		state := &core.LimiterState{
			Limits:            configured,
			SentNotifications: []time.Time{now.Add(-10 * time.Minute), now.Add(-9 * time.Minute)},
			Triggered:         true,
		}
		status := limiterStatus("file", "state.json", true, state, configured, now)
		assert.False(t, status.Reached)
		assert.False(t, status.Triggered)
		assert.Equal(t, 2, status.Windows[1].Count)
	})
}

func TestListPendingOldestFirst(t *testing.T) {
	dir := t.TempDir()
	reports := store.NewReportStore(dir)

	first, err := reports.Enqueue([]byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := reports.Enqueue([]byte(`{"n":22}`))
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(reports.Path(second), old, old))

	pending, err := listPending(reports)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second, pending[0].ID)
	assert.Equal(t, first, pending[1].ID)
	assert.Equal(t, int64(8), pending[0].Size)
	assert.Equal(t, filepath.Join(dir, "faultline_report_"+first), pending[1].Path)
}

func TestListPendingMissingDir(t *testing.T) {
	_, err := listPending(store.NewReportStore(filepath.Join(t.TempDir(), "missing")))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrOfflineStorage)
}

func TestEmitWritesFileOrStdout(t *testing.T) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)

	require.NoError(t, emit(c, "-", "[]"))
	assert.Equal(t, "[]\n", out.String())

	path := filepath.Join(t.TempDir(), "reports", "pending.json")
	require.NoError(t, emit(c, path, "[]"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
