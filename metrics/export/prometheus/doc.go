// Package prometheus exposes authcore metrics to Prometheus.
//
// [Collector] implements the client_golang Collector interface and can be
// registered with a service's existing registry. [Handler] wraps it in a
// private registry served through promhttp.
// Counter names are prefixed authcore_ and end in _total; histograms end
// in _seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
