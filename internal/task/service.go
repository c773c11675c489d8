package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/pkg/logger"
)

// Service creates and queries tasks.
type Service struct {
	store      Store
	producer   queue.Producer
	maxRetries int
	functions  FunctionLookup
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithFunctionCatalog rejects submissions naming functions the catalog does
// not know.
func WithFunctionCatalog(functions FunctionLookup) ServiceOption {
	return func(s *Service) {
		s.functions = functions
	}
}

// NewService builds a task service. maxRetries bounds the number of attempts
// of every task and defaults to 3.
func NewService(store Store, producer queue.Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit stores a new task and publishes its id.
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	function := strings.TrimSpace(req.Function)
	if function == "" {
		return nil, xerrors.New(CodeTaskValidation, "function cannot be empty")
	}
	if s.functions != nil {
		if _, ok := s.functions.Lookup(function); !ok {
			return nil, xerrors.New(CodeTaskValidation, fmt.Sprintf("unknown function %q", function))
		}
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task service not initialised")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		task, err := s.store.Get(ctx, taskID)
		if err == nil {
			return task, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:         taskID,
		Function:   function,
		Groups:     slices.Clone(req.Groups),
		Values:     maps.Clone(req.Values),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			existing, getErr := s.store.Get(ctx, taskID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrTaskNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("failed to enqueue task", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "publish task")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("task enqueued",
		slog.String("task_id", taskID),
		slog.String("function", task.Function),
		slog.Any("groups", task.Groups),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get returns the task with id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns the tasks matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.List(ctx, BuildListOptions(opts))
}

// Stats aggregates the tasks matching opts.
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "task store not initialised")
	}
	return s.store.Stats(ctx, BuildListOptions(opts))
}

// Close releases the store and the producer.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted polls the task until it succeeds, fails for good or ctx
// is done.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status == StatusSucceeded || task.Status == StatusFailed {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
