// Package metrics provides a thread-safe OpenTelemetry metrics factory with
// fluent builders and the pipeline's pre-declared instruments.
package metrics
