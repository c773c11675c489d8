// Package decorators holds the built-in decorator plugins: logging, audit,
// cache, events, metrics, timeout and recover. Each is created through
// Factories and configured from its plugin configuration block.
package decorators
