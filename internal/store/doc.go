// Package store provides the SQLite-backed engine journal.
//
// The journal is an append-only audit trail with:
//   - Registrations: every installation of a rule, with its canonical JSON
//   - Disposals: the end of a registration and why it ended
//   - Satisfactions: every satisfaction delivered to listeners
//
// It is not rule persistence: rules are never reloaded from the journal.
//
// # Ordering
//
// Entries carry a store-assigned seq, continued across reopens. Reads order
// by seq, which is the order the engine delivered events in. Timestamps are
// informational only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
