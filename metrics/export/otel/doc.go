// Package otel exposes authcore counters and latency histograms as
// OpenTelemetry observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per counter. Each
// latency histogram becomes a <name>_bucket gauge with one data point per
// le bound and a <name>_count gauge. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
