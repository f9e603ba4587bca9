package metrics

import (
	"strconv"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/observability"
)

// Delivery metric names
const (
	DeliveryOutcomesTotal = "delivery_outcomes_total"
	DeliveryErrorsTotal   = "delivery_errors_total"
	RateLimitEventsTotal  = "rate_limit_events_total"
	OfflineRetryTotal     = "offline_retry_total"
)

// DeliveryRecorder emits delivery pipeline counters through the global
// telemetry system. It is a no-op until observability.InitMetrics runs.
type DeliveryRecorder struct{}

var _ delivery.Recorder = DeliveryRecorder{}

// DeliveryOutcome counts a finished pipeline run by its terminal state.
func (DeliveryRecorder) DeliveryOutcome(state delivery.State, substituted bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		DeliveryOutcomesTotal,
		1,
		map[string]string{
			"outcome":     string(state),
			"substituted": strconv.FormatBool(substituted),
		},
	)
}

// DeliveryError counts a failure by kind.
func (DeliveryRecorder) DeliveryError(kind core.ErrorKind) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		DeliveryErrorsTotal,
		1,
		map[string]string{"kind": string(kind)},
	)
}

// RateLimitEvent counts limiter decisions, either triggered or suppressed.
func (DeliveryRecorder) RateLimitEvent(event string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		RateLimitEventsTotal,
		1,
		map[string]string{"event": event},
	)
}

// OfflineRetry counts the entries of one retry pass.
func (DeliveryRecorder) OfflineRetry(summary store.RetrySummary) {
	if observability.TelemetrySystem == nil {
		return
	}
	if summary.Sent > 0 {
		_ = observability.TelemetrySystem.Counter(
			OfflineRetryTotal,
			float64(summary.Sent),
			map[string]string{"result": "sent"},
		)
	}
	if summary.Failed > 0 {
		_ = observability.TelemetrySystem.Counter(
			OfflineRetryTotal,
			float64(summary.Failed),
			map[string]string{"result": "failed"},
		)
	}
}
