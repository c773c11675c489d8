// Package chain exposes read-only queries against EVM chains as invocable
// functions. Parameters such as addresses and hashes arrive as strings and are
// converted by the chain value resolver.
package chain
