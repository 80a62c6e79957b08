// Package sqlite persists fitauth audit entries in a SQLite database through
// the pure Go modernc.org/sqlite driver.
//
// [AuditLog] implements the audit store, its native query path and retention
// cleanup. Timestamps are kept both as RFC 3339 text, so chain hashes
// recompute byte for byte, and as Unix nanoseconds for range scans.
package sqlite
