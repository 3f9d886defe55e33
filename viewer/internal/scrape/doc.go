// Package scrape reads a producer's transport metrics from its Prometheus
// endpoint (see the emitter's metrics_addr) and derives per-minute rates
// from two scrapes. It backs the "rdbg-view stats" command.
package scrape
