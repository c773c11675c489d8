package decorators

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

const publishTimeout = 5 * time.Second

// Event is the message published for every finished invocation.
type Event struct {
	InvocationID string    `json:"invocation_id"`
	Function     string    `json:"function"`
	Groups       []string  `json:"groups,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Events publishes an Event to a queue after each invocation.
type Events struct {
	base
	producer queue.Producer
	logger   *slog.Logger
}

// NewEvents returns an events decorator. A nil producer is taken from the
// events.producer resource on Init.
func NewEvents(producer queue.Producer) *Events {
	return &Events{producer: producer, logger: logger.Named("events")}
}

func (d *Events) Info() plugin.Info {
	return info("events", "Publishes invocation events to a queue.", plugin.PermissionMessaging)
}

func (d *Events) Configure(cfg map[string]any) error {
	return plugin.DecodeConfig(cfg, &d.filter)
}

func (d *Events) Init(ctx *plugin.ExecutionContext) error {
	if d.producer != nil {
		return nil
	}
	producer, ok := plugin.Resource[queue.Producer](ctx, plugin.ResourceEventProducer)
	if !ok {
		return errors.New("event producer resource not provided")
	}
	d.producer = producer
	return nil
}

func (d *Events) Supports(md *invoke.Metadata) bool {
	return d.producer != nil && d.filter.Supports(md)
}

func (d *Events) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		start := time.Now()
		out, err := next(ctx, args)

		evt := Event{
			InvocationID: md.ID.String(),
			Function:     md.FunctionName(),
			Groups:       md.Groups,
			Status:       status(err),
			DurationMS:   time.Since(start).Milliseconds(),
			OccurredAt:   time.Now().UTC(),
		}
		if err != nil {
			evt.Error = err.Error()
			evt.ErrorCode = string(xerrors.FromInvocation(err).Code())
		}
		payload, jsonErr := json.Marshal(evt)
		if jsonErr == nil {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			jsonErr = d.producer.Publish(pubCtx, string(payload))
			cancel()
		}
		if jsonErr != nil {
			d.logger.Warn("invocation event not published",
				slog.String("invocation_id", evt.InvocationID),
				slog.Any("error", jsonErr))
		}
		return out, err
	}
}
