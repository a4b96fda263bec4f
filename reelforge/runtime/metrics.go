package runtime

import (
	"context"
	"sync"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

var panicRecoveredMetric = metrics.Metric{
	Name:        constant.MetricPanicRecoveredTotal,
	Unit:        "1",
	Description: "Total number of recovered panics",
}

var (
	panicMetricsFactory *metrics.MetricsFactory
	panicMetricsMu      sync.RWMutex
)

// InitPanicMetrics enables the panic counter. Later calls are no-ops; nil is ignored.
func InitPanicMetrics(factory *metrics.MetricsFactory) {
	panicMetricsMu.Lock()
	defer panicMetricsMu.Unlock()

	if factory == nil || panicMetricsFactory != nil {
		return
	}

	panicMetricsFactory = factory
}

// ResetPanicMetrics clears the panic counter factory. Intended for tests.
func ResetPanicMetrics() {
	panicMetricsMu.Lock()
	defer panicMetricsMu.Unlock()

	panicMetricsFactory = nil
}

func recordPanicMetric(ctx context.Context, component, goroutineName string) {
	panicMetricsMu.RLock()
	factory := panicMetricsFactory
	panicMetricsMu.RUnlock()

	if factory == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	counter, err := factory.Counter(panicRecoveredMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"component":      constant.SanitizeMetricLabel(component),
		"goroutine_name": constant.SanitizeMetricLabel(goroutineName),
	}).AddOne(ctx)
}
