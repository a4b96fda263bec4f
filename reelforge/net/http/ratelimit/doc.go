// Package ratelimit provides a Redis-backed fiber.Storage so submission
// limits hold across service instances.
package ratelimit
