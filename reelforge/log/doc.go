// Package log defines the logging interface and typed fields used across
// reelforge packages.
//
// Backends (such as the zap package) implement Logger so the orchestrator,
// stage services and adapters log the same way regardless of sink.
package log
