// Package metrics exports migration activity to Prometheus: lifecycle event
// counts, external command tallies, and a per-status repository gauge read
// from the state store at scrape time.
package metrics
