// Package internaldefs holds the metric names, help text and bucket bounds
// shared by the exporter packages, so the Prometheus and OTel views of an
// engine use identical names.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
