package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReport = `{"apiKey":"abc","payloadVersion":"5","notifier":{"name":"faultline"},"events":[{"exceptions":[]}]}`

func postReport(c *Collector, body string, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func TestCollectorAcceptsReport(t *testing.T) {
	c := &Collector{}

	rec := postReport(c, validReport, "abc")

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CollectorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, resp.Events)
	assert.Empty(t, resp.File)
	assert.EqualValues(t, 1, c.Received())
}

func TestCollectorCapturesBody(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{
		CaptureDir: dir,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
	}

	rec := postReport(c, validReport, "abc")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CollectorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.File, "1700000000000000000_"))

	data, err := os.ReadFile(filepath.Join(dir, resp.File))
	require.NoError(t, err)
	assert.JSONEq(t, validReport, string(data))
}

func TestCollectorFallsBackToBodyAPIKey(t *testing.T) {
	rec := postReport(&Collector{}, validReport, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCollectorRejectsInvalidReports(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		apiKey string
		status int
		code   string
	}{
		{"malformed", `{"events":`, "abc", http.StatusBadRequest, "INVALID_INPUT"},
		{"no events", `{"notifier":{"name":"x"},"events":[]}`, "abc", http.StatusBadRequest, "INVALID_INPUT"},
		{"no notifier", `{"events":[{}]}`, "abc", http.StatusBadRequest, "INVALID_INPUT"},
		{"no api key", `{"notifier":{"name":"x"},"events":[{}]}`, "", http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Collector{}
			rec := postReport(c, tc.body, tc.apiKey)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
			assert.Zero(t, c.Received())
		})
	}
}

func TestCollectorRejectsOversizedBody(t *testing.T) {
	c := &Collector{MaxBodyBytes: 16}

	rec := postReport(c, validReport, "abc")

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rec))
}

func TestCollectorCaptureFailure(t *testing.T) {
	c := &Collector{CaptureDir: filepath.Join(t.TempDir(), "missing")}

	rec := postReport(c, validReport, "abc")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, c.Received())
}
