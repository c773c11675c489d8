// Package bootstrap assembles the daemon from its configuration.
package bootstrap
