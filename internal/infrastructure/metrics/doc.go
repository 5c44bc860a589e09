// Package metrics exposes process and pipeline counters for Prometheus.
//
// Collectors live on a registry owned by the Metrics value rather than the
// global default registry, so tests and multiple instances do not collide.
package metrics
