// Package metrics provides the daemon's observability hooks.
//
// Components receive a Recorder through their constructor. NoopRecorder is
// the default and costs nothing; PrometheusRecorder registers collectors on
// a registry that the status server exposes at /metrics.
package metrics
