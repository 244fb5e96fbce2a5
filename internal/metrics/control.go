package metrics

import (
	"github.com/drivepacer/drivepacer/internal/observability"
)

// Control-loop metrics following Prometheus conventions. All emitters are
// no-ops until observability.InitMetrics has run, so one-shot commands and
// tests pay nothing.
const (
	TicksTotal         = "pacer_ticks_total"
	BackoffsTotal      = "pacer_backoffs_total"
	GrowthsTotal       = "pacer_growths_total"
	StallsTotal        = "pacer_stalls_total"
	ApplyFailuresTotal = "pacer_apply_failures_total"
	FetchFailuresTotal = "pacer_fetch_failures_total"
	TransfersGauge     = "pacer_transfers"
	TPSLimitGauge      = "pacer_tps_limit"
)

// RecordTick counts one completed control-loop tick.
func RecordTick() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(TicksTotal, 1, nil)
	}
}

// RecordBackoff counts a throttle reduction, labeled by error severity.
func RecordBackoff(severity string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BackoffsTotal,
			1,
			map[string]string{"severity": severity},
		)
	}
}

// RecordGrowth counts a throttle increase, labeled by the knob that moved.
func RecordGrowth(knob string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GrowthsTotal,
			1,
			map[string]string{"knob": knob},
		)
	}
}

// RecordStall counts a stall-triggered load reduction.
func RecordStall() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(StallsTotal, 1, nil)
	}
}

// RecordApplyFailure counts a failed throttle update, labeled by operation.
func RecordApplyFailure(op string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ApplyFailuresTotal,
			1,
			map[string]string{"op": op},
		)
	}
}

// RecordFetchFailure counts a failed stats poll.
func RecordFetchFailure() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(FetchFailuresTotal, 1, nil)
	}
}

// SetThrottle publishes the current throttle values as gauges.
func SetThrottle(transfers int, tpsLimit float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(TransfersGauge, float64(transfers), nil)
		_ = observability.TelemetrySystem.Gauge(TPSLimitGauge, tpsLimit, nil)
	}
}
