// Package metrics exposes Prometheus collectors for the HTTP API and for
// function invocations.
package metrics
