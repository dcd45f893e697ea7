// Package metric provides Prometheus metrics for meshkv.
//
// Metrics include:
//
//   - Snapshot save and load counters, durations and sizes
//   - The loading flag and scheduler outcomes
//   - Front-end command counters
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
