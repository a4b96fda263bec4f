package assert

import (
	"context"
	"sync"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

var assertionFailedMetric = metrics.Metric{
	Name:        constant.MetricAssertionFailedTotal,
	Unit:        "1",
	Description: "Total number of failed assertions",
}

var (
	assertionMetricsFactory *metrics.MetricsFactory
	assertionMetricsMu      sync.RWMutex
)

// InitAssertionMetrics enables the assertion_failed_total counter. Later calls
// are no-ops; nil is ignored.
func InitAssertionMetrics(factory *metrics.MetricsFactory) {
	assertionMetricsMu.Lock()
	defer assertionMetricsMu.Unlock()

	if factory == nil || assertionMetricsFactory != nil {
		return
	}

	assertionMetricsFactory = factory
}

// ResetAssertionMetrics clears the counter factory. Intended for tests.
func ResetAssertionMetrics() {
	assertionMetricsMu.Lock()
	defer assertionMetricsMu.Unlock()

	assertionMetricsFactory = nil
}

func recordAssertionMetric(ctx context.Context, component, operation, assertion string) {
	assertionMetricsMu.RLock()
	factory := assertionMetricsFactory
	assertionMetricsMu.RUnlock()

	if factory == nil {
		return
	}

	counter, err := factory.Counter(assertionFailedMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"component": constant.SanitizeMetricLabel(component),
		"operation": constant.SanitizeMetricLabel(operation),
		"assertion": constant.SanitizeMetricLabel(assertion),
	}).AddOne(ctx)
}
