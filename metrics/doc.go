// Package metrics exposes Prometheus collectors for the transfer engine.
//
// Collectors are registered with the default registry at package init, so
// serving promhttp.Handler() is enough to scrape them.
package metrics
