package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/observability/alerting"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/pkg/logger"
)

// Processor consumes task ids from a queue and executes them.
type Processor struct {
	executor    Executor
	store       Store
	consumer    queue.Consumer
	producer    queue.Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the logger used for debug output.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount sets the number of consuming goroutines.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler installs a compensation strategy for non-retryable
// failures.
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher sets where failure alerts go.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor builds a processor. producer re-publishes tasks that should be
// retried.
func NewProcessor(executor Executor, store Store, consumer queue.Consumer, producer queue.Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("task.processor")
	}
	return p
}

// Start consumes until ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "task consumer not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "processor not initialised")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("skipping task", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("failed to claim task", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, task)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	if result == nil {
		result = &ExecutionResult{}
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, *result); err != nil {
		return p.requeueAfterStoreFailure(ctx, task, CodeTaskProcessing, err)
	}
	logger.Audit().Info("task succeeded",
		slog.String("task_id", task.ID),
		slog.String("function", task.Function),
		slog.String("invocation_id", result.InvocationID),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	exhausted := task.Attempts >= task.MaxRetries
	terminal := exhausted || !retryable

	if !retryable && p.recovery != nil {
		fallback, recErr := p.recovery.Recover(ctx, task, execErr)
		switch {
		case recErr != nil:
			wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "task compensation failed")
			logger.L().Error("compensation failed", slog.Any("error", wrapped), slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		case fallback != nil:
			fallback.Degraded = true
			if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
				return p.requeueAfterStoreFailure(ctx, task, code, err)
			}
			logger.Audit().Warn("task degraded",
				slog.String("task_id", task.ID),
				slog.String("function", task.Function),
				slog.String("cause", execErr.Error()),
			)
			p.emitAlert(ctx, task, code, execErr, "degraded")
			return nil
		}
	}

	if exhausted && retryable {
		code = CodeTaskExhausted
	}
	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("failed to record task failure", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("task failed",
		slog.String("task_id", task.ID),
		slog.String("function", task.Function),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "non_retryable"
		}
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("requeue task %s", task.ID))
		}
		p.logger.Debug("task requeued", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

// requeueAfterStoreFailure handles a result that could not be written: the
// attempt is recorded as failed and the task is published again.
func (p *Processor) requeueAfterStoreFailure(ctx context.Context, task *Task, code xerrors.Code, cause error) error {
	logger.L().Error("failed to record task result", slog.Any("error", cause), slog.String("task_id", task.ID))
	if storeErr := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), false); storeErr != nil {
		logger.L().Error("failed to record task failure", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("requeue task %s", task.ID))
	}
	logger.Audit().Warn("task requeued after store failure",
		slog.String("task_id", task.ID),
		slog.String("function", task.Function),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Function:   task.Function,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("alert notification failed",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
