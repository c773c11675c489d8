// Package alerting fans operator alerts out to notification channels.
package alerting
