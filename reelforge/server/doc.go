// Package server runs the HTTP listener and drives graceful shutdown.
//
// Shutdown stops intake first, then drains the registered components in
// registration order, then syncs the logger.
package server
