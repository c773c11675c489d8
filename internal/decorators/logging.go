package decorators

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// Logging writes one line when an invocation starts and one when it ends.
type Logging struct {
	base
	logger *slog.Logger
	level  slog.Level
}

// NewLogging returns a logging decorator writing to l, or to the "invoke"
// component logger when l is nil.
func NewLogging(l *slog.Logger) *Logging {
	if l == nil {
		l = logger.Named("invoke")
	}
	return &Logging{logger: l, level: slog.LevelInfo}
}

func (d *Logging) Info() plugin.Info {
	return info("logging", "Logs the start, outcome and duration of invocations.")
}

func (d *Logging) Configure(cfg map[string]any) error {
	var c struct {
		filter `yaml:",inline"`
		Level  string `yaml:"level"`
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	d.filter = c.filter
	if strings.EqualFold(c.Level, "debug") {
		d.level = slog.LevelDebug
	}
	return nil
}

func (d *Logging) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		attrs := []any{
			slog.String("invocation_id", md.ID.String()),
			slog.String("function", md.FunctionName()),
			slog.Any("groups", md.Groups),
		}
		d.logger.Log(ctx, d.level, "invocation started", attrs...)

		start := time.Now()
		out, err := next(ctx, args)
		attrs = append(attrs, slog.Duration("duration", time.Since(start)))
		if err != nil {
			attrs = append(attrs,
				slog.String("code", string(xerrors.FromInvocation(err).Code())),
				slog.Any("error", err))
			d.logger.WarnContext(ctx, "invocation failed", attrs...)
			return out, err
		}
		d.logger.Log(ctx, d.level, "invocation finished", attrs...)
		return out, nil
	}
}
