package task

import (
	"encoding/json"
	stdErrors "errors"
	"maps"
	"slices"

	xerrors "Invoke-Chain/internal/errors"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending tasks wait in the queue, either for the first attempt or
	// for a retry.
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	// StatusFailed is terminal.
	StatusFailed Status = "failed"
)

// ExecutionResult is what a successful invocation left behind.
type ExecutionResult struct {
	InvocationID string          `json:"invocation_id,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Degraded     bool            `json:"degraded,omitempty"`
}

// Task is one queued invocation of a catalog function. Nil Groups runs with
// the invoker's default groups; an empty, non-nil slice activates none.
type Task struct {
	ID         string           `json:"id"`
	Function   string           `json:"function"`
	Groups     []string         `json:"groups"`
	Values     map[string]any   `json:"values,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Request asks for a new task.
type Request struct {
	// ID makes submission idempotent: resubmitting a known id returns the
	// existing task.
	ID       string `json:"id,omitempty"`
	Function string `json:"function"`
	// Groups left out of the request means the default groups; [] means none.
	Groups []string       `json:"groups,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

var (
	ErrTaskNotFound  = xerrors.New(CodeTaskNotFound, "task not found")
	ErrTaskConflict  = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskCompensate xerrors.Code = "TASK_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskCompensate, xerrors.Attributes{
		Message:  "task compensation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsTaskError reports whether err is the task error identified by target.
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	for _, known := range []*xerrors.Error{ErrTaskNotFound, ErrTaskConflict, ErrTaskCompleted, ErrTaskExhausted} {
		if stdErrors.Is(err, known) {
			return known.Code() == target
		}
	}
	return false
}

// IsValidStatus reports whether status is a known status.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Clone returns a deep enough copy for callers to mutate freely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Groups = slices.Clone(t.Groups)
	clone.Values = maps.Clone(t.Values)
	clone.Result = t.Result.clone()
	return &clone
}

func (r *ExecutionResult) clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Value = slices.Clone(r.Value)
	return &c
}

// HasResult reports whether the task recorded an execution result.
func (t *Task) HasResult() bool {
	return t != nil && t.Result != nil
}
