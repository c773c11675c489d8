// Package auth protects the HTTP API with static API keys and writes an
// audit log line for every request.
package auth
