// Package constant holds shared telemetry names, label helpers and HTTP
// header keys used across reelforge packages.
package constant
