// Package api exposes the function catalog, synchronous invocation and the
// task queue over HTTP.
package api
