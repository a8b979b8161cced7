// Package queue persists publish jobs in SQLite and doubles as the durable
// job queue driving the pipeline.
//
// The jobs table satisfies the pipeline's queue contract directly: delayed
// scheduling via next_attempt_at, at-most-one-owner via a status-guarded
// claim UPDATE, at-least-once redelivery via heartbeat-based reclaim of
// stale processing rows, and exponential backoff computed when a retryable
// attempt is rescheduled. Per-platform outcomes live in results_json; a
// job's status is always the pure function DeriveStatus of those outcomes.
//
// Treat this package as the single source of truth for queue semantics; when
// you add statuses or job fields, update schema.sql and bump schemaVersion.
package queue
