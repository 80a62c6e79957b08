// Package analytics derives risk signals from audit history. Every function is
// pure: callers load entries, analytics only reads them.
//
// # What this package must NOT do
//
//   - Perform I/O or hold state.
//   - Import fitauth (no upward imports).
package analytics
