package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/pkg/invoke"
)

// Executor runs the invocation a task describes.
type Executor interface {
	Execute(ctx context.Context, task *Task) (*ExecutionResult, error)
}

// FunctionLookup finds invocable functions by name.
type FunctionLookup interface {
	Lookup(name string) (*invoke.Function, bool)
}

// InvokerExecutor executes tasks through an invoker.
type InvokerExecutor struct {
	functions FunctionLookup
	invoker   *invoke.Invoker
}

// NewInvokerExecutor builds an executor over a function catalog.
func NewInvokerExecutor(functions FunctionLookup, invoker *invoke.Invoker) *InvokerExecutor {
	return &InvokerExecutor{functions: functions, invoker: invoker}
}

// Execute invokes the task's function with its values and groups. A task
// with nil groups uses the invoker's default groups. Errors are classified
// with FromInvocation so the processor can tell retryable failures apart.
func (e *InvokerExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	if e == nil || e.functions == nil || e.invoker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "executor not initialised")
	}
	fn, ok := e.functions.Lookup(task.Function)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("unknown function %q", task.Function))
	}

	id := uuid.New()
	opts := []invoke.CallOption{invoke.WithID(id), invoke.WithValues(task.Values)}
	if task.Groups != nil {
		opts = append(opts, invoke.WithGroups(task.Groups...))
	}

	started := time.Now()
	out, err := e.invoker.Invoke(ctx, fn, opts...)
	if err != nil {
		return nil, xerrors.FromInvocation(err)
	}
	result := &ExecutionResult{
		InvocationID: id.String(),
		DurationMS:   time.Since(started).Milliseconds(),
	}
	if out != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvocationFailed, err, "encode invocation result")
		}
		result.Value = raw
	}
	return result, nil
}
