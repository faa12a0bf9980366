// Package progress provides the event primitives, hub, and emitter interfaces
// an audit job uses to report its lifecycle and per-batch results. The hub
// batches events on a background goroutine and fans them out, in emission
// order, to pluggable sinks such as the job store or Prometheus.
package progress
