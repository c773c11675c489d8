// Package task runs invocations asynchronously. A Service stores submitted
// tasks and publishes their ids to a queue; a Processor consumes the ids,
// claims the task, invokes its function and records the outcome, re-queueing
// retryable failures until the task runs out of attempts.
package task
