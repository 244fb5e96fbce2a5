package metrics

import (
	"strconv"
	"time"

	"github.com/drivepacer/drivepacer/internal/observability"
)

// Status-server metrics, emitted by the HTTP middleware.
const (
	HTTPRequestsTotal = "http_requests_total"
	HTTPDurationMS    = "http_request_duration_ms"
	HTTPPanicsTotal   = "http_panics_total"
)

// RecordHTTPRequest counts one completed request and records its latency.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   strconv.Itoa(status),
	}
	_ = observability.TelemetrySystem.Counter(HTTPRequestsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(HTTPDurationMS, duration, labels)
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(HTTPPanicsTotal, 1, nil)
	}
}
