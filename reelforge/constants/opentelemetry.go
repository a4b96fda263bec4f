package constant

// TelemetrySDKName identifies this library in OTEL instrumentation scopes.
const TelemetrySDKName = "lib-reelforge"

// MaxMetricLabelLength bounds metric label values to keep cardinality in check.
const MaxMetricLabelLength = 64

// Telemetry attribute key prefixes.
const (
	AttrPrefixAssertion = "assertion."
	AttrPrefixPanic     = "panic."
)

// Telemetry metric names.
const (
	MetricPanicRecoveredTotal        = "panic_recovered_total"
	MetricAssertionFailedTotal       = "assertion_failed_total"
	MetricStageCallsTotal            = "stage_calls_total"
	MetricStageCallLatency           = "stage_call_latency_ms"
	MetricBreakerTransitionsTotal    = "circuit_breaker_transitions_total"
	MetricJobsTerminalTotal          = "jobs_terminal_total"
	MetricStageResultsTotal          = "stage_results_total"
	MetricResourceMemoryInUse        = "resource_memory_in_use"
	MetricResourceCPUInUse           = "resource_cpu_in_use"
	MetricResourceAcquireWaitLatency = "resource_acquire_wait_latency_ms"
	MetricEventsDroppedTotal         = "pipeline_events_dropped_total"
)

// Telemetry event names.
const (
	EventAssertionFailed = "assertion.failed"
	EventPanicRecovered  = "panic.recovered"
)

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
