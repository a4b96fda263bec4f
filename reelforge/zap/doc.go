// Package zap provides the zap-backed implementation of reelforge's log.Logger.
//
// Use New to build a logger for a deployment environment; entries carry the
// active OpenTelemetry trace and span ids when the context holds a span.
package zap
