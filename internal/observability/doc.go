// Package observability builds the process logger and the Prometheus
// collectors for provider attempts, circuit state and HTTP traffic.
package observability
