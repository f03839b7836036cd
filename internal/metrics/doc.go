// Package metrics exposes Prometheus collectors for the echo bridge. Metrics
// implements events.Sink, so it is fed from the same event stream as the
// logger.
package metrics
