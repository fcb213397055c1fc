// Package metrics exposes Prometheus instrumentation for training runs and
// the monitoring HTTP server that serves it alongside health and status
// endpoints.
package metrics
