package task

import "context"

// RecoveryHandler compensates for tasks that failed without a chance of
// succeeding on retry.
type RecoveryHandler interface {
	// Recover returns a fallback result that is recorded as a degraded
	// success, or nil to let the failure stand.
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc adapts a function to RecoveryHandler.
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)

func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, task, cause)
}
