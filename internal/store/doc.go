// Package store provides the transactional datastore behind the Program
// Health kernel.
//
// The store owns four tables:
//   - canonical_events: append-only accepted facts
//   - program_health_ledger: one entry per accepted event
//   - program_health_snapshots: append-only per-horizon summaries
//   - program_health_absences: current state, one row per absence key
//
// # Critical Patterns
//
// Idempotent append
//   - UNIQUE(program_id, kind, inputs_hash) on canonical_events
//   - A resubmission with the same payload digest is a no-op
//   - A resubmission with a different digest is rejected, nothing is written
//
// Atomic projection
//   - Emit appends and projects inside one transaction
//   - Any failure rolls back the event, ledger entry, snapshot and absences
//
// Deterministic ordering
//   - seq is assigned at append and strictly increases
//   - Recency reads order by created_at DESC, seq DESC
//
// # Database Configuration
//
// SQLite (default):
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection, which serializes emissions
//
// Postgres:
//   - Emissions serialize on a transaction-scoped advisory lock
//
// Payloads are stored as canonical JSON (internal/ir/canonical.go) and
// digested with domain-separated SHA-256 (internal/ir/hash.go).
package store
