// Package server exposes the migration coordinator over HTTP. It serves the
// tracked repository list, a per-status summary, a retry action for failed
// repositories, a server-sent event stream of lifecycle changes, and the
// Prometheus metrics endpoint.
package server
