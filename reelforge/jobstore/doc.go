// Package jobstore archives JSON-encodable records by ID.
//
// MemoryStore suits a single process and tests; WithTTL and WithMaxEntries
// keep it from growing without bound. RedisStore keeps records in
// Redis or Valkey (standalone, sentinel or cluster) with an optional TTL so
// that finished jobs outlive a restart of the orchestrator.
//
// Both stores encode values as JSON, so a loaded record never shares memory
// with the value that was saved.
package jobstore
