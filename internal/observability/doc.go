// Package observability provides logging, metrics, and request context
// propagation for the citation harvest service.
//
// Logging is built on zerolog with structured JSON output by default and a
// console writer for development. Sub-loggers carry harvest context
// (target, edition, fetch position) via the With* helpers.
//
// Metrics are Prometheus collectors registered through promauto under a
// configurable namespace; see Metrics for the full inventory.
package observability
