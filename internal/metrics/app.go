package metrics

import (
	"strconv"

	"github.com/faultline/faultline/internal/observability"
)

// Sink and HTTP error metric names.
const (
	SinkReportsTotal     = "sink_reports_total"
	SinkEventsTotal      = "sink_events_total"
	ServerStartTime      = "app_server_start_time_seconds"
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

func counter(name string, value float64, labels map[string]string) {
	if tel := observability.TelemetrySystem; tel != nil {
		_ = tel.Counter(name, value, labels)
	}
}

// RecordSinkReport counts a report body received by the local collector.
// status is accepted, rejected or too_large.
func RecordSinkReport(status string, events int) {
	counter(SinkReportsTotal, 1, map[string]string{"status": status})
	if events > 0 {
		counter(SinkEventsTotal, float64(events), nil)
	}
}

// SetServerStartTime records when the sink started, in Unix seconds.
func SetServerStartTime(timestamp int64) {
	if tel := observability.TelemetrySystem; tel != nil {
		_ = tel.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// RecordError counts an error response by envelope code and status.
func RecordError(code string, status int) {
	counter(ErrorsTotalName, 1, map[string]string{"error_code": code, "http_status": strconv.Itoa(status)})
}

// RecordErrorByEndpoint counts an error response by path.
func RecordErrorByEndpoint(endpoint, code string) {
	counter(ErrorsByEndpointName, 1, map[string]string{"endpoint": endpoint, "error_code": code})
}

// RecordPanic counts a panic recovered by the HTTP middleware.
func RecordPanic() {
	counter(PanicsTotalName, 1, nil)
}
