// Package resolvers holds the built-in value resolver plugins: invocation ids,
// chain values parsed from strings and values stored in Redis.
package resolvers
