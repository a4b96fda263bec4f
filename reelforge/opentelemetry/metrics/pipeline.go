package metrics

import (
	"context"
	"time"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
)

// Pre-declared pipeline instruments.
var (
	MetricStageCalls = Metric{
		Name:        constant.MetricStageCallsTotal,
		Unit:        "1",
		Description: "Collaborator calls per dependency and outcome.",
	}

	MetricStageCallLatency = Metric{
		Name:        constant.MetricStageCallLatency,
		Unit:        "ms",
		Description: "Collaborator call latency in milliseconds.",
		Buckets:     DefaultLatencyBuckets,
	}

	MetricBreakerTransitions = Metric{
		Name:        constant.MetricBreakerTransitionsTotal,
		Unit:        "1",
		Description: "Circuit breaker state transitions per dependency.",
	}

	MetricJobsTerminal = Metric{
		Name:        constant.MetricJobsTerminalTotal,
		Unit:        "1",
		Description: "Jobs reaching a terminal status.",
	}

	MetricStageResults = Metric{
		Name:        constant.MetricStageResultsTotal,
		Unit:        "1",
		Description: "Stage results per stage kind and status.",
	}

	MetricResourceMemoryInUse = Metric{
		Name:        constant.MetricResourceMemoryInUse,
		Unit:        "1",
		Description: "Memory units currently granted by the resource manager.",
	}

	MetricResourceCPUInUse = Metric{
		Name:        constant.MetricResourceCPUInUse,
		Unit:        "1",
		Description: "CPU units currently granted by the resource manager.",
	}

	MetricResourceAcquireWait = Metric{
		Name:        constant.MetricResourceAcquireWaitLatency,
		Unit:        "ms",
		Description: "Time spent waiting for a resource allocation.",
		Buckets:     DefaultLatencyBuckets,
	}

	MetricEventsDropped = Metric{
		Name:        constant.MetricEventsDroppedTotal,
		Unit:        "1",
		Description: "Progress events dropped because a subscriber or sink queue was full.",
	}
)

// RecordStageCall counts one collaborator call and records its latency.
func (f *MetricsFactory) RecordStageCall(ctx context.Context, dependency, outcome string, latency time.Duration) error {
	labels := map[string]string{
		"dependency": constant.SanitizeMetricLabel(dependency),
		"outcome":    constant.SanitizeMetricLabel(outcome),
	}

	counter, err := f.Counter(MetricStageCalls)
	if err != nil {
		return err
	}

	if err := counter.WithLabels(labels).AddOne(ctx); err != nil {
		return err
	}

	histogram, err := f.Histogram(MetricStageCallLatency)
	if err != nil {
		return err
	}

	return histogram.WithLabels(labels).Record(ctx, latency.Milliseconds())
}

// RecordBreakerTransition counts a circuit breaker transition into state to.
func (f *MetricsFactory) RecordBreakerTransition(ctx context.Context, dependency, to string) error {
	counter, err := f.Counter(MetricBreakerTransitions)
	if err != nil {
		return err
	}

	return counter.WithLabels(map[string]string{
		"dependency": constant.SanitizeMetricLabel(dependency),
		"to":         constant.SanitizeMetricLabel(to),
	}).AddOne(ctx)
}

// RecordJobTerminal counts a job reaching status.
func (f *MetricsFactory) RecordJobTerminal(ctx context.Context, status string) error {
	counter, err := f.Counter(MetricJobsTerminal)
	if err != nil {
		return err
	}

	return counter.WithLabels(map[string]string{"status": constant.SanitizeMetricLabel(status)}).AddOne(ctx)
}

// RecordStageResult counts a stage result by kind and status.
func (f *MetricsFactory) RecordStageResult(ctx context.Context, kind, status string) error {
	counter, err := f.Counter(MetricStageResults)
	if err != nil {
		return err
	}

	return counter.WithLabels(map[string]string{
		"stage":  constant.SanitizeMetricLabel(kind),
		"status": constant.SanitizeMetricLabel(status),
	}).AddOne(ctx)
}

// RecordResourceUsage sets the in-use memory and CPU gauges.
func (f *MetricsFactory) RecordResourceUsage(ctx context.Context, memoryInUse, cpuInUse int64) error {
	memGauge, err := f.Gauge(MetricResourceMemoryInUse)
	if err != nil {
		return err
	}

	if err := memGauge.Set(ctx, memoryInUse); err != nil {
		return err
	}

	cpuGauge, err := f.Gauge(MetricResourceCPUInUse)
	if err != nil {
		return err
	}

	return cpuGauge.Set(ctx, cpuInUse)
}

// RecordAcquireWait records how long a requester of class waited for capacity.
func (f *MetricsFactory) RecordAcquireWait(ctx context.Context, class string, wait time.Duration) error {
	histogram, err := f.Histogram(MetricResourceAcquireWait)
	if err != nil {
		return err
	}

	return histogram.WithLabels(map[string]string{"class": constant.SanitizeMetricLabel(class)}).Record(ctx, wait.Milliseconds())
}

// RecordEventsDropped counts n progress events dropped on the way to target
// ("subscriber" or "sink").
func (f *MetricsFactory) RecordEventsDropped(ctx context.Context, target string, n int64) error {
	counter, err := f.Counter(MetricEventsDropped)
	if err != nil {
		return err
	}

	return counter.WithLabels(map[string]string{"target": constant.SanitizeMetricLabel(target)}).Add(ctx, n)
}
