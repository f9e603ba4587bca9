package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/engine"
	"github.com/faultline/faultline/internal/core/payload"
	"github.com/faultline/faultline/internal/core/store"
)

type fakeTransport struct {
	err    error
	bodies [][]byte
}

func (f *fakeTransport) Post(ctx context.Context, body []byte) error {
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	return f.err
}

type failingEncoder struct{}

func (failingEncoder) Encode(core.Report) ([]byte, error) {
	return nil, errors.New("unsupported value")
}

type stubLimiter struct {
	registerErr error
	registers   int
	triggered   bool
	reached     bool
}

func (s *stubLimiter) RegisterSend(ctx context.Context) error {
	s.registers++
	return s.registerErr
}
func (s *stubLimiter) Triggered() bool { return s.triggered }
func (s *stubLimiter) Reached() bool { return s.reached }
func (s *stubLimiter) NotificationOptions() *core.NotificationOptions { return nil }

type countingRecorder struct {
	outcomes map[State]int
	errors   map[core.ErrorKind]int
	events   map[string]int
	retries  int
}

func newRecorder() *countingRecorder {
	return &countingRecorder{
		outcomes: map[State]int{},
		errors:   map[core.ErrorKind]int{},
		events:   map[string]int{},
	}
}

func (c *countingRecorder) DeliveryOutcome(state State, substituted bool) { c.outcomes[state]++ }
func (c *countingRecorder) DeliveryError(kind core.ErrorKind) { c.errors[kind]++ }
func (c *countingRecorder) RateLimitEvent(event string) { c.events[event]++ }
func (c *countingRecorder) OfflineRetry(store.RetrySummary) { c.retries++ }

func testEncoder() *payload.Encoder {
	return &payload.Encoder{
		Device: core.DeviceInfo{OSVersion: "linux", Hostname: "test"},
	}
}

func testReport() core.Report {
	return core.Report{ErrorClass: "IOError", Message: "disk unavailable", Context: "upload"}
}

func pendingFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, store.DefaultReportPrefix+"_*"))
	require.NoError(t, err)
	return matches
}

func TestSendWithoutLimiter(t *testing.T) {
	transport := &fakeTransport{}
	recorder := newRecorder()
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Recorder: recorder}

	res, err := p.Send(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSent, res.Outcome)
	assert.Equal(t, []State{StateNotConfigured, StateSending, StateSent}, res.Trace)
	assert.Len(t, transport.bodies, 1)
	assert.Equal(t, 1, recorder.outcomes[StateSent])
}

func TestSendStoresOfflineThenRetryDrains(t *testing.T) {
	dir := t.TempDir()
	reports := store.NewReportStore(dir)
	enc := testEncoder()
	failing := &fakeTransport{err: errors.New("connection refused")}
	p := &Pipeline{Transport: failing, Encoder: enc, Reports: reports}

	res, err := p.Send(context.Background(), testReport())
	require.ErrorIs(t, err, core.ErrStoredForRetry)
	assert.Equal(t, StateStoredOffline, res.Outcome)
	require.NotEmpty(t, res.StoredID)

	files := pendingFiles(t, dir)
	require.Len(t, files, 1)
	stored, err := os.ReadFile(files[0])
	require.NoError(t, err)
	expected, err := enc.Encode(testReport())
	require.NoError(t, err)
	assert.Equal(t, expected, stored)

	working := &fakeTransport{}
	p.Transport = working
	summary, err := p.RetryStored(context.Background(), store.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Empty(t, pendingFiles(t, dir))
	require.Len(t, working.bodies, 1)
	assert.Equal(t, expected, working.bodies[0])
}

func TestSendTransferFailedWithoutStorage(t *testing.T) {
	p := &Pipeline{Transport: &fakeTransport{err: errors.New("timeout")}, Encoder: testEncoder()}

	res, err := p.Send(context.Background(), testReport())
	require.ErrorIs(t, err, core.ErrTransferFailed)
	assert.Equal(t, StateFailed, res.Outcome)
}

func TestSendTransferAndStorageFailed(t *testing.T) {
	reports := store.NewReportStore(filepath.Join(t.TempDir(), "missing"))
	p := &Pipeline{Transport: &fakeTransport{err: errors.New("timeout")}, Encoder: testEncoder(), Reports: reports}

	res, err := p.Send(context.Background(), testReport())
	require.ErrorIs(t, err, core.ErrTransferAndStorage)
	assert.Equal(t, StateFailed, res.Outcome)
	assert.Empty(t, res.StoredID)
}

func TestSendPayloadFailureSkipsLimiter(t *testing.T) {
	limiter := &stubLimiter{}
	transport := &fakeTransport{}
	p := &Pipeline{Transport: transport, Encoder: failingEncoder{}, Limiter: limiter}

	res, err := p.Send(context.Background(), testReport())
	require.ErrorIs(t, err, core.ErrPayloadConstruction)
	assert.Equal(t, StateFailed, res.Outcome)
	assert.Zero(t, limiter.registers)
	assert.Empty(t, transport.bodies)
}

func TestSendRateLimitSubstitutesThenSuppresses(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	severity := core.SeverityWarning

	limiter, err := engine.NewRateLimiter(ctx, engine.RateLimiterOptions{
		Store:  store.NewFileStateStore(),
		Key:    filepath.Join(t.TempDir(), "rate_limit.json"),
		Limits: []core.SendLimit{core.NewSendLimit(time.Minute, 1)},
		Notification: &core.NotificationOptions{
			Metadata: json.RawMessage(`{"limits":{"per_minute":1}}`),
			Severity: &severity,
		},
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	transport := &fakeTransport{}
	recorder := newRecorder()
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Limiter: limiter, Recorder: recorder}

	res, err := p.Send(ctx, testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSent, res.Outcome)
	assert.False(t, res.Substituted)

	res, err = p.Send(ctx, testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSent, res.Outcome)
	assert.True(t, res.Substituted)
	assert.Equal(t, []State{StateEvaluating, StateSubstituted, StateSending, StateSent}, res.Trace)

	require.Len(t, transport.bodies, 2)
	var body map[string]any
	require.NoError(t, json.Unmarshal(transport.bodies[1], &body))
	evt := body["events"].([]any)[0].(map[string]any)
	exc := evt["exceptions"].([]any)[0].(map[string]any)
	assert.Equal(t, RateLimitClass, exc["errorClass"])
	assert.Equal(t, RateLimitMessage, exc["message"])
	assert.Equal(t, RateLimitGroupingHash, evt["groupingHash"])
	assert.Equal(t, "warning", evt["severity"])
	assert.NotContains(t, evt, "context")
	assert.Contains(t, evt["metaData"], "limits")

	res, err = p.Send(ctx, testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSuppressed, res.Outcome)
	assert.Len(t, transport.bodies, 2)

	assert.Equal(t, 1, recorder.events["triggered"])
	assert.Equal(t, 1, recorder.events["suppressed"])
}

func TestSendLimiterWriteErrorStillDelivers(t *testing.T) {
	limiter := &stubLimiter{registerErr: errors.New("read-only file system")}
	transport := &fakeTransport{}
	recorder := newRecorder()
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Limiter: limiter, Recorder: recorder}

	res, err := p.Send(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSent, res.Outcome)
	require.Error(t, res.LimiterErr)
	assert.Len(t, transport.bodies, 1)
	assert.Equal(t, 1, recorder.errors[core.KindRateLimitState])
}

func TestSendRateLimitNoticeWithoutOptions(t *testing.T) {
	limiter := &stubLimiter{triggered: true, reached: true}
	transport := &fakeTransport{}
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Limiter: limiter}

	res, err := p.Send(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSent, res.Outcome)
	assert.True(t, res.Substituted)

	require.Len(t, transport.bodies, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(transport.bodies[0], &body))
	evt := body["events"].([]any)[0].(map[string]any)
	exc := evt["exceptions"].([]any)[0].(map[string]any)
	assert.Equal(t, RateLimitClass, exc["errorClass"])
	assert.Equal(t, RateLimitGroupingHash, evt["groupingHash"])
	assert.NotContains(t, evt, "severity")
	assert.NotContains(t, evt, "metaData")
}

func TestSendSuppressedDoesNotStore(t *testing.T) {
	dir := t.TempDir()
	limiter := &stubLimiter{reached: true}
	transport := &fakeTransport{err: errors.New("offline")}
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Limiter: limiter, Reports: store.NewReportStore(dir)}

	res, err := p.Send(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, StateSuppressed, res.Outcome)
	assert.Empty(t, transport.bodies)
	assert.Empty(t, pendingFiles(t, dir))
}

func TestRetryStoredWithoutStorage(t *testing.T) {
	recorder := newRecorder()
	p := &Pipeline{Transport: &fakeTransport{}, Encoder: testEncoder(), Recorder: recorder}

	_, err := p.RetryStored(context.Background(), store.RetryOptions{})
	require.ErrorIs(t, err, core.ErrOfflineStorage)
	assert.Equal(t, 1, recorder.errors[core.KindOfflineStorage])
}

func TestRetryStoredBypassesLimiter(t *testing.T) {
	dir := t.TempDir()
	reports := store.NewReportStore(dir)
	_, err := reports.Enqueue([]byte(`{"events":[]}`))
	require.NoError(t, err)

	limiter := &stubLimiter{reached: true}
	transport := &fakeTransport{}
	p := &Pipeline{Transport: transport, Encoder: testEncoder(), Limiter: limiter, Reports: reports}

	summary, err := p.RetryStored(context.Background(), store.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, limiter.registers)
	assert.Len(t, transport.bodies, 1)
}

func TestNilPipeline(t *testing.T) {
	var p *Pipeline
	_, err := p.Send(context.Background(), testReport())
	require.ErrorIs(t, err, core.ErrPayloadConstruction)
}
