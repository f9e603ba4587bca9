package metrics

import (
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})
	return collector
}

func TestDeliveryRecorderEmitsCounters(t *testing.T) {
	collector := setupTelemetry(t)
	rec := DeliveryRecorder{}

	rec.DeliveryOutcome(delivery.StateSent, true)
	rec.DeliveryError(core.KindTransferFailed)
	rec.RateLimitEvent("triggered")
	rec.OfflineRetry(store.RetrySummary{Attempted: 3, Sent: 2, Failed: 1})

	assert.Greater(t, collector.CountMetricsByName(DeliveryOutcomesTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(DeliveryErrorsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitEventsTotal), 0)
	assert.Equal(t, 2, collector.CountMetricsByName(OfflineRetryTotal))
}

func TestOfflineRetrySkipsEmptyPass(t *testing.T) {
	collector := setupTelemetry(t)

	DeliveryRecorder{}.OfflineRetry(store.RetrySummary{})

	assert.Equal(t, 0, collector.CountMetricsByName(OfflineRetryTotal))
}

func TestRecordersWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		DeliveryRecorder{}.DeliveryOutcome(delivery.StateFailed, false)
		RecordSinkReport("accepted", 1)
		RecordError("INTERNAL_ERROR", 500)
		RecordPanic()
	})
}

func TestRecordSinkReport(t *testing.T) {
	collector := setupTelemetry(t)

	RecordSinkReport("accepted", 2)
	RecordSinkReport("rejected", 0)

	assert.Equal(t, 2, collector.CountMetricsByName(SinkReportsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(SinkEventsTotal))
}
