// Package config loads the daemon configuration from a YAML file and fills in
// defaults, resolving relative paths against the file's directory.
package config
