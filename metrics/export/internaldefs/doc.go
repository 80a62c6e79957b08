// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters.
//
// The Prometheus and OTel exporters both read these tables, so renaming a
// metric here renames it everywhere.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
