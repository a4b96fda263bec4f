// Package reelforge holds process-level wiring for the video pipeline
// service: environment configuration, local .env loading and the app
// launcher used by cmd/reelforge.
//
// The pipeline itself lives in subpackages: stage services call generation
// collaborators behind circuit breakers, retries and resource admission, and
// pipeline.Orchestrator runs jobs across them.
package reelforge
