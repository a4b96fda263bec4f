// Package opentelemetry builds the OTLP trace, metric and log providers and
// carries trace context across queue headers.
//
// InitializeTelemetryWithError can run in disabled mode for local use: the
// providers still work and export nothing.
package opentelemetry
