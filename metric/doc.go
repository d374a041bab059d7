// Package metric provides Prometheus metrics for the simulation core.
//
// The package follows a dual-tracking observability pattern: components keep
// always-on atomic counters for internal use, and additionally publish
// Prometheus metrics when a MetricsRegistry is provided. A nil registry means
// metrics are disabled; components must treat the metrics handle as optional.
//
// MetricsRegistry owns a private prometheus.Registry so that several
// independent simulation runs can coexist in one process without collector
// registration conflicts. Server exposes the registry over HTTP for scraping.
package metric
